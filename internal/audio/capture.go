package audio

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Capture is a PortAudio input Source. Host buffers are mixed down to mono
// and re-cut into FrameSize frames.
type Capture struct {
	stream     *portaudio.Stream
	sampleRate float64
	channels   int
	device     *portaudio.DeviceInfo

	mu      sync.Mutex
	emit    func([]float32)
	framer  *framer
	mono    []float32
	started bool
}

// Config controls how a Capture instance is created.
type Config struct {
	DeviceName string
	Channels   int
}

// NewCapture opens (but does not start) a PortAudio input stream.
func NewCapture(cfg Config) (*Capture, error) {
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	if err := acquire(); err != nil {
		return nil, err
	}
	device, err := findDevice(cfg.DeviceName)
	if err != nil {
		release()
		return nil, err
	}
	if cfg.Channels > device.MaxInputChannels {
		cfg.Channels = device.MaxInputChannels
	}

	inParams := portaudio.StreamDeviceParameters{
		Device:   device,
		Channels: cfg.Channels,
		Latency:  device.DefaultLowInputLatency,
	}

	capture := &Capture{
		sampleRate: device.DefaultSampleRate,
		channels:   cfg.Channels,
		device:     device,
		framer:     newFramer(),
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input:           inParams,
		Output:          portaudio.StreamDeviceParameters{},
		SampleRate:      capture.sampleRate,
		FramesPerBuffer: FrameSize,
	}, capture.process)
	if err != nil {
		release()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	capture.stream = stream
	return capture, nil
}

// Name returns the device name.
func (c *Capture) Name() string {
	if c.device == nil {
		return "portaudio"
	}
	return c.device.Name
}

// Start begins delivering frames to emit.
func (c *Capture) Start(emit func([]float32)) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errAlreadyStarted
	}
	c.emit = emit
	c.started = true
	c.mu.Unlock()

	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	return nil
}

// Close stops and closes the underlying PortAudio stream.
func (c *Capture) Close() error {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()
	if stream == nil {
		return nil
	}
	defer release()
	if err := stream.Stop(); err != nil && !errorsIsInvalidStreamState(err) {
		stream.Close()
		return err
	}
	return stream.Close()
}

// SampleRate returns the stream sample rate.
func (c *Capture) SampleRate() float64 {
	return c.sampleRate
}

// Device returns the PortAudio device associated with the capture stream.
func (c *Capture) Device() *portaudio.DeviceInfo {
	return c.device
}

func (c *Capture) process(in []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emit == nil {
		return
	}
	c.mono = mixToMono(in, c.channels, c.mono)
	c.framer.push(c.mono, c.emit)
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	if name != "" {
		return findDeviceByName(name)
	}

	if dev, err := portaudio.DefaultInputDevice(); err == nil && dev != nil && dev.MaxInputChannels > 0 {
		return dev, nil
	}

	if host, err := portaudio.DefaultHostApi(); err == nil {
		if host != nil && host.DefaultInputDevice != nil && host.DefaultInputDevice.MaxInputChannels > 0 {
			return host.DefaultInputDevice, nil
		}
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	candidate := pickBestDevice(devices)
	if candidate != nil {
		return candidate, nil
	}

	return nil, fmt.Errorf("no suitable audio input device found")
}

func findDeviceByName(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	name = strings.ToLower(name)
	for _, device := range devices {
		if device.MaxInputChannels == 0 {
			continue
		}
		deviceName := strings.ToLower(device.Name)
		if strings.Contains(deviceName, name) {
			return device, nil
		}
	}

	return nil, fmt.Errorf("audio device %q not found", name)
}

func pickBestDevice(devices []*portaudio.DeviceInfo) *portaudio.DeviceInfo {
	type scored struct {
		dev   *portaudio.DeviceInfo
		score int
	}

	var (
		results  []scored
		keywords = []string{"monitor", "loopback", "mix", "stereo mix", "what u hear"}
	)

	var defaultInputIndex = -1
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultInputIndex = def.Index
	}

	var defaultHostIndex = -1
	if host, err := portaudio.DefaultHostApi(); err == nil && host != nil && host.DefaultInputDevice != nil {
		defaultHostIndex = host.DefaultInputDevice.Index
	}

	for _, d := range devices {
		if d == nil || d.MaxInputChannels <= 0 {
			continue
		}

		score := d.MaxInputChannels

		if d.Index == defaultInputIndex {
			score += 50
		}
		if d.Index == defaultHostIndex {
			score += 40
		}

		lower := strings.ToLower(d.Name)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				score += 20
				break
			}
		}

		if strings.Contains(lower, "default") {
			score += 10
		}

		results = append(results, scored{dev: d, score: score})
	}

	if len(results) == 0 {
		return nil
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score == results[j].score {
			return strings.ToLower(results[i].dev.Name) < strings.ToLower(results[j].dev.Name)
		}
		return results[i].score > results[j].score
	})

	return results[0].dev
}

// errorsIsInvalidStreamState checks if the provided error stems from stopping an already stopped stream.
func errorsIsInvalidStreamState(err error) bool {
	if err == nil {
		return false
	}
	const invalidStateMsg = "PaErrorCode -9986"
	return strings.Contains(err.Error(), invalidStateMsg)
}
