package v4l2

import "fmt"

// CapabilityFlag is a bit of v4l2_capability.capabilities.
type CapabilityFlag uint32

// Capability bits from linux/videodev2.h.
const (
	CapVideoCapture       CapabilityFlag = 0x00000001
	CapVideoOutput        CapabilityFlag = 0x00000002
	CapVideoOverlay       CapabilityFlag = 0x00000004
	CapVBICapture         CapabilityFlag = 0x00000010
	CapVBIOutput          CapabilityFlag = 0x00000020
	CapSlicedVBICapture   CapabilityFlag = 0x00000040
	CapSlicedVBIOutput    CapabilityFlag = 0x00000080
	CapRDSCapture         CapabilityFlag = 0x00000100
	CapVideoOutputOverlay CapabilityFlag = 0x00000200
	CapHWFreqSeek         CapabilityFlag = 0x00000400
	CapRDSOutput          CapabilityFlag = 0x00000800
	CapTuner              CapabilityFlag = 0x00010000
	CapAudio              CapabilityFlag = 0x00020000
	CapRadio              CapabilityFlag = 0x00040000
	CapModulator          CapabilityFlag = 0x00080000
	CapReadWrite          CapabilityFlag = 0x01000000
	CapAsyncIO            CapabilityFlag = 0x02000000
	CapStreaming          CapabilityFlag = 0x04000000
)

var capabilityNames = []struct {
	flag CapabilityFlag
	name string
}{
	{CapVideoCapture, "V4L2_CAP_VIDEO_CAPTURE"},
	{CapVideoOutput, "V4L2_CAP_VIDEO_OUTPUT"},
	{CapVideoOverlay, "V4L2_CAP_VIDEO_OVERLAY"},
	{CapVBICapture, "V4L2_CAP_VBI_CAPTURE"},
	{CapVBIOutput, "V4L2_CAP_VBI_OUTPUT"},
	{CapSlicedVBICapture, "V4L2_CAP_SLICED_VBI_CAPTURE"},
	{CapSlicedVBIOutput, "V4L2_CAP_SLICED_VBI_OUTPUT"},
	{CapRDSCapture, "V4L2_CAP_RDS_CAPTURE"},
	{CapVideoOutputOverlay, "V4L2_CAP_VIDEO_OUTPUT_OVERLAY"},
	{CapHWFreqSeek, "V4L2_CAP_HW_FREQ_SEEK"},
	{CapRDSOutput, "V4L2_CAP_RDS_OUTPUT"},
	{CapTuner, "V4L2_CAP_TUNER"},
	{CapAudio, "V4L2_CAP_AUDIO"},
	{CapRadio, "V4L2_CAP_RADIO"},
	{CapModulator, "V4L2_CAP_MODULATOR"},
	{CapReadWrite, "V4L2_CAP_READWRITE"},
	{CapAsyncIO, "V4L2_CAP_ASYNCIO"},
	{CapStreaming, "V4L2_CAP_STREAMING"},
}

// Has reports whether every bit of flag is set.
func (c CapabilityFlag) Has(flag CapabilityFlag) bool {
	return c&flag == flag
}

// Names returns the V4L2 names of the set bits in ascending bit order.
// Unknown bits are ignored.
func (c CapabilityFlag) Names() []string {
	names := make([]string, 0, len(capabilityNames))
	for _, cn := range capabilityNames {
		if c.Has(cn.flag) {
			names = append(names, cn.name)
		}
	}
	return names
}

// Capabilities is the decoded result of VIDIOC_QUERYCAP.
type Capabilities struct {
	Driver  string         `json:"driver"`
	Card    string         `json:"card"`
	BusInfo string         `json:"bus_info"`
	Version uint32         `json:"version"`
	Flags   CapabilityFlag `json:"capabilities"`
}

// Has reports whether the device advertises flag.
func (c Capabilities) Has(flag CapabilityFlag) bool {
	return c.Flags.Has(flag)
}

// VersionString formats the kernel's KERNEL_VERSION-packed driver version.
func (c Capabilities) VersionString() string {
	return fmt.Sprintf("%d.%d.%d", (c.Version>>16)&0xff, (c.Version>>8)&0xff, c.Version&0xff)
}
