// Package mediainfo probes descriptive metadata (duration, bit rate,
// resolution, codecs, frame rate) from a finished recording. Probing is
// best-effort: callers treat any error as "no metadata available".
package mediainfo

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/log"
)

// VideoMetadata is the attribute set attached to a finalized upload.
// All fields are transported as strings; Duration is in milliseconds.
type VideoMetadata struct {
	Duration   string
	Bandwidth  string
	Resolution string
	VideoCodec string
	AudioCodec string
	Framerate  string
}

// Prober extracts VideoMetadata from a media file.
type Prober interface {
	Probe(path string) (*VideoMetadata, error)
}

// FFProbe probes files by running the ffprobe binary.
type FFProbe struct {
	cmdFactory command.Factory
	logger     log.Logger
}

// NewFFProbe ...
func NewFFProbe(cmdFactory command.Factory, logger log.Logger) *FFProbe {
	return &FFProbe{
		cmdFactory: cmdFactory,
		logger:     logger,
	}
}

// Probe runs ffprobe on the file and parses its JSON output.
func (p *FFProbe) Probe(path string) (*VideoMetadata, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	cmd := p.cmdFactory.Create("ffprobe", args, nil)

	p.logger.Debugf("$ %s", cmd.PrintableCommandArgs())
	out, err := cmd.RunAndReturnTrimmedOutput()
	if err != nil {
		return nil, fmt.Errorf("run ffprobe: %w", err)
	}

	return parseFFProbeOutput([]byte(out))
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type ffprobeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

func parseFFProbeOutput(out []byte) (*VideoMetadata, error) {
	var probed ffprobeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var video, audio *ffprobeStream
	for i := range probed.Streams {
		stream := &probed.Streams[i]
		switch stream.CodecType {
		case "video":
			if video == nil {
				video = stream
			}
		case "audio":
			if audio == nil {
				audio = stream
			}
		}
	}
	if video == nil {
		return nil, fmt.Errorf("no video stream in file")
	}

	meta := VideoMetadata{
		Duration:   durationMillis(probed.Format.Duration),
		Bandwidth:  probed.Format.BitRate,
		Resolution: fmt.Sprintf("%dx%d", video.Width, video.Height),
		VideoCodec: video.CodecName,
		Framerate:  video.RFrameRate,
	}
	if video.BitRate != "" {
		meta.Bandwidth = video.BitRate
	}
	if audio != nil {
		meta.AudioCodec = audio.CodecName
	}

	return &meta, nil
}

// durationMillis converts ffprobe's duration (seconds, decimal string) to a
// millisecond string. The raw value is passed through if it can't be parsed.
func durationMillis(seconds string) string {
	sec, err := strconv.ParseFloat(seconds, 64)
	if err != nil {
		return seconds
	}
	return strconv.FormatFloat(sec*1000, 'f', -1, 64)
}
