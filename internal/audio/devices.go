package audio

import (
	"fmt"
	"sort"

	"github.com/gordonklaus/portaudio"
)

// Device is one PortAudio input device.
type Device struct {
	Name        string
	HostAPI     string
	Channels    int
	SampleRate  float64
	Default     bool
	Recommended bool // what capture picks when no device is configured
}

func (d Device) String() string {
	mark := " "
	switch {
	case d.Recommended:
		mark = "*"
	case d.Default:
		mark = "d"
	}
	return fmt.Sprintf("%s %-40s %-16s %2dch %6.0f Hz", mark, d.Name, d.HostAPI, d.Channels, d.SampleRate)
}

// InputDevices lists devices that can be captured from, sorted by host API
// and name.
func InputDevices() ([]Device, error) {
	if err := acquire(); err != nil {
		return nil, err
	}
	defer release()

	hosts, err := portaudio.HostApis()
	if err != nil {
		return nil, fmt.Errorf("host apis: %w", err)
	}

	defaultIndex := -1
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultIndex = def.Index
	}
	recommended := -1
	if dev, err := findDevice(""); err == nil {
		recommended = dev.Index
	}

	var devices []Device
	for _, host := range hosts {
		for _, d := range host.Devices {
			if d.MaxInputChannels <= 0 {
				continue
			}
			devices = append(devices, Device{
				Name:        d.Name,
				HostAPI:     host.Name,
				Channels:    d.MaxInputChannels,
				SampleRate:  d.DefaultSampleRate,
				Default:     d.Index == defaultIndex,
				Recommended: d.Index == recommended,
			})
		}
	}

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].HostAPI == devices[j].HostAPI {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].HostAPI < devices[j].HostAPI
	})
	return devices, nil
}
