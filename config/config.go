// Package config loads the settings of the decoder and of the dry-run device from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/decoder"
	"github.com/ugparu/vkdecoder/device/recorder"
	"github.com/ugparu/vkdecoder/framedata"
)

// Config represents the full configuration of a decode run.
type Config struct {
	// Logging
	LogLevel string `yaml:"log_level"`

	Decoder DecoderConfig `yaml:"decoder"`
	Device  DeviceConfig  `yaml:"device"`

	// Stream
	ChannelSize int `yaml:"channel_size"`
}

// DecoderConfig mirrors decoder.Options.
type DecoderConfig struct {
	LinearOutput         bool          `yaml:"linear_output"`
	SeparateOutputImages bool          `yaml:"separate_output_images"`
	ImageArray           bool          `yaml:"image_array"`
	ImageViewArray       bool          `yaml:"image_view_array"`
	DumpDecodeData       bool          `yaml:"dump_decode_data"`
	CheckDecodeFences    bool          `yaml:"check_decode_fences"`
	CheckDecodeIdleSync  bool          `yaml:"check_decode_idle_sync"`
	CheckDecodeStatus    bool          `yaml:"check_decode_status"`
	BitstreamPool        bool          `yaml:"bitstream_pool"`
	MaxBitstreamNodes    int           `yaml:"max_bitstream_nodes"`
	LargestSurfaceExtent bool          `yaml:"largest_surface_extent"`
	FenceTimeout         time.Duration `yaml:"fence_timeout"`
}

// DeviceConfig describes the queue and the limits the dry-run device reports.
type DeviceConfig struct {
	QueueFamily         int      `yaml:"queue_family"`
	Codecs              []string `yaml:"codecs"`
	BitstreamAlignment  uint64   `yaml:"bitstream_alignment"`
	AccessGranularity   uint32   `yaml:"access_granularity"`
	MinCodedSize        uint32   `yaml:"min_coded_size"`
	MaxCodedSize        uint32   `yaml:"max_coded_size"`
	MaxDpbSlots         uint32   `yaml:"max_dpb_slots"`
	MaxActiveReferences uint32   `yaml:"max_active_references"`
	MaxImages           int      `yaml:"max_images"`
	HoldFences          bool     `yaml:"hold_fences"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		LogLevel: "info",

		Decoder: DecoderConfig{
			BitstreamPool:     true,
			MaxBitstreamNodes: framedata.DefaultMaxBitstreamNodes,
			FenceTimeout:      decoder.DefaultFenceTimeout,
		},

		Device: DeviceConfig{
			QueueFamily:         1,
			Codecs:              []string{"h264", "h265"},
			BitstreamAlignment:  256,
			AccessGranularity:   16,
			MinCodedSize:        64,
			MaxCodedSize:        4096,
			MaxDpbSlots:         vkdecoder.MaxDpbRefAndSetupSlots,
			MaxActiveReferences: vkdecoder.MaxDpbRefSlots,
		},

		ChannelSize: 8,
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate checks the values a decode run cannot start with.
func (c Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := c.Device.CodecOperations(); err != nil {
		return err
	}
	if c.Device.MinCodedSize > c.Device.MaxCodedSize {
		return fmt.Errorf("config: min coded size %d exceeds max %d", c.Device.MinCodedSize, c.Device.MaxCodedSize)
	}
	if c.ChannelSize < 0 {
		return fmt.Errorf("config: negative channel size %d", c.ChannelSize)
	}
	return nil
}

// Level returns the logrus level, info when unparsable.
func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// ParseCodec converts a codec name into its decode operation.
func ParseCodec(name string) (vkdecoder.CodecOperation, error) {
	switch strings.ToLower(name) {
	case "h264", "avc", "h.264":
		return vkdecoder.CodecOperationDecodeH264, nil
	case "h265", "hevc", "h.265":
		return vkdecoder.CodecOperationDecodeH265, nil
	case "av1":
		return vkdecoder.CodecOperationDecodeAV1, nil
	case "vp9":
		return vkdecoder.CodecOperationDecodeVP9, nil
	}
	return vkdecoder.CodecOperationNone, fmt.Errorf("config: unknown codec %q", name)
}

// CodecOperations returns the union of the configured codecs.
func (d DeviceConfig) CodecOperations() (vkdecoder.CodecOperation, error) {
	var ops vkdecoder.CodecOperation
	for _, name := range d.Codecs {
		op, err := ParseCodec(name)
		if err != nil {
			return vkdecoder.CodecOperationNone, err
		}
		ops |= op
	}
	return ops, nil
}

// ToOptions converts the decoder section to decoder.Options.
func (c Config) ToOptions() decoder.Options {
	d := c.Decoder
	return decoder.Options{
		UseLinearOutput:         d.LinearOutput,
		UseSeparateOutputImages: d.SeparateOutputImages,
		UseImageArray:           d.ImageArray,
		UseImageViewArray:       d.ImageViewArray,
		DumpDecodeData:          d.DumpDecodeData,
		CheckDecodeFences:       d.CheckDecodeFences,
		CheckDecodeIdleSync:     d.CheckDecodeIdleSync,
		CheckDecodeStatus:       d.CheckDecodeStatus,
		EnableBitstreamPool:     d.BitstreamPool,
		MaxBitstreamNodes:       d.MaxBitstreamNodes,
		UseLargestSurfaceExtent: d.LargestSurfaceExtent,
		FenceTimeout:            d.FenceTimeout,
	}
}

// ToDeviceConfig converts the device section to recorder.Config. An invalid codec list yields no codecs.
func (c Config) ToDeviceConfig() recorder.Config {
	d := c.Device
	codecs, _ := d.CodecOperations()
	return recorder.Config{
		QueueFamily: d.QueueFamily,
		Codecs:      codecs,
		Capabilities: vkdecoder.VideoCapabilities{
			MinBitstreamBufferOffsetAlignment: d.BitstreamAlignment,
			MinBitstreamBufferSizeAlignment:   d.BitstreamAlignment,
			PictureAccessGranularity:          vkdecoder.Extent2D{Width: d.AccessGranularity, Height: d.AccessGranularity},
			MinCodedExtent:                    vkdecoder.Extent2D{Width: d.MinCodedSize, Height: d.MinCodedSize},
			MaxCodedExtent:                    vkdecoder.Extent2D{Width: d.MaxCodedSize, Height: d.MaxCodedSize},
			MaxDpbSlots:                       d.MaxDpbSlots,
			MaxActiveReferencePictures:        d.MaxActiveReferences,
		},
		MaxImages:  d.MaxImages,
		HoldFences: d.HoldFences,
	}
}
