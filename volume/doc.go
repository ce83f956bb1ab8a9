// Package volume mounts the FAT volume of a probed card.
//
// [Mount] takes a live [card.Session] and a [hal.Registry] and runs:
//
//  1. duplicate the card descriptor into a record the registry may keep
//  2. take a free logical drive slot
//  3. register the duplicate in that slot
//  4. derive the drive name and check the mount-point path
//  5. bind the mount point to the drive
//  6. mount the first FAT volume on the drive
//
// A failure at any step undoes the steps before it and leaves the session
// open for another attempt. On success the session belongs to the volume.
//
// [Volume.Close] unmounts, clears the slot, unbinds the mount point and
// frees the duplicate, in that order, and then tears down the session.
// Failures during Close are logged as warnings.
package volume
