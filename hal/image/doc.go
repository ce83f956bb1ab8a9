// Package image provides a host HAL whose card is a disk image file.
//
// The image stands in for the SD card: Init opens it and takes an exclusive
// advisory lock, ProbeCard reports its size as a card of 512-byte sectors,
// and sector reads and writes go straight to the file with pread(2) and
// pwrite(2). It is implemented with golang.org/x/sys/unix and needs no cgo.
//
// # Requirements
//
// The image size must be a non-zero multiple of 512 bytes. Only one Host
// may hold an image at a time; a second Init on a locked image fails with
// an error wrapping [pkg.ErrBusy].
//
// # Platforms
//
// Only Linux is supported. On other platforms every operation fails with
// [pkg.ErrNotSupported].
package image
