// Package mem implements the byte-addressable backing store used for
// host DRAM and CXL device memory. It adapts the teacher's block-LBA
// oriented storage interface (github.com/ardnew/softusb/device/class/msc)
// to offset/size byte access, the shape DCOH and the home agent need for
// cache-line (64B) reads and writes.
package mem
