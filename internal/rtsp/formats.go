package rtsp

import (
	"fmt"
	"strings"

	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/jmylchreest/camstreamd/internal/gst"
)

// dynamicPayloadType is the RTP payload type the GStreamer payloaders use by
// default for codecs without a static assignment.
const dynamicPayloadType = 96

// mediaFor returns the session description media announced for a pipeline
// ending in payloader.
func mediaFor(payloader string) (*description.Media, error) {
	var forma format.Format

	switch payloader {
	case "rtpjpegpay":
		forma = &format.MJPEG{}
	case "rtph264pay":
		forma = &format.H264{
			PayloadTyp:        dynamicPayloadType,
			PacketizationMode: 1,
		}
	case "rtpmp4vpay":
		forma = &format.MPEG4Video{
			PayloadTyp: dynamicPayloadType,
		}
	case "rtpdvpay":
		generic := &format.Generic{
			PayloadTyp: dynamicPayloadType,
			RTPMa:      "DV/90000",
		}
		if err := generic.Init(); err != nil {
			return nil, fmt.Errorf("initializing DV format: %w", err)
		}
		forma = generic
	default:
		return nil, fmt.Errorf("no RTP format for payloader %q", payloader)
	}

	return &description.Media{
		Type:    description.MediaTypeVideo,
		Formats: []format.Format{forma},
	}, nil
}

// payloaderOptions are appended to the payloader stage when a pipeline is
// launched. The SDP carries no parameter sets, so H.264 consumers joining a
// shared media rely on SPS/PPS being repeated in-band before each IDR.
var payloaderOptions = map[string]string{
	"rtph264pay": "config-interval=-1",
}

// forLaunch returns p with launch-time payloader options applied.
func forLaunch(p gst.Pipeline) gst.Pipeline {
	opts, ok := payloaderOptions[p.Payloader]
	if !ok {
		return p
	}
	stages := append([]string(nil), p.Stages...)
	for i := len(stages) - 1; i >= 0; i-- {
		if strings.HasPrefix(stages[i], p.Payloader) {
			stages[i] += " " + opts
			break
		}
	}
	return gst.Pipeline{Stages: stages, Payloader: p.Payloader}
}
