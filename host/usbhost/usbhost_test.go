package usbhost

import (
	"testing"

	usb "github.com/google/gousb"
)

func TestParseBusAddr(t *testing.T) {
	tests := []struct {
		in        string
		bus, addr int
	}{
		{"1:4", 1, 4},
		{"003:012", 3, 12},
		{"", -1, -1},
		{"1", -1, -1},
		{"1:x", -1, -1},
		{"256:1", -1, -1},
	}
	for _, tt := range tests {
		bus, addr := parseBusAddr(tt.in)
		if bus != tt.bus || addr != tt.addr {
			t.Errorf("parseBusAddr(%q) = %d, %d, want %d, %d", tt.in, bus, addr, tt.bus, tt.addr)
		}
	}
}

func TestDeviceString(t *testing.T) {
	d := Device{Bus: 2, Address: 7, Vendor: DefaultVendor, Product: DefaultProduct}
	if got := d.BusAddr(); got != "2:7" {
		t.Errorf("BusAddr() = %q", got)
	}
	if got := d.String(); got != "2:7 33c3:8899" {
		t.Errorf("String() = %q", got)
	}
}

func setting(alt int, eps ...usb.EndpointDesc) usb.InterfaceSetting {
	m := make(map[usb.EndpointAddress]usb.EndpointDesc)
	for _, ep := range eps {
		m[ep.Address] = ep
	}
	return usb.InterfaceSetting{Alternate: alt, Endpoints: m}
}

func TestBulkSetting(t *testing.T) {
	bulkIn := usb.EndpointDesc{Address: 0x83, Number: 3, Direction: usb.EndpointDirectionIn, TransferType: usb.TransferTypeBulk}
	bulkOut := usb.EndpointDesc{Address: 0x04, Number: 4, Direction: usb.EndpointDirectionOut, TransferType: usb.TransferTypeBulk}
	intrIn := usb.EndpointDesc{Address: 0x81, Number: 1, Direction: usb.EndpointDirectionIn, TransferType: usb.TransferTypeInterrupt}

	desc := &usb.DeviceDesc{
		Configs: map[int]usb.ConfigDesc{
			1: {
				Number: 1,
				Interfaces: []usb.InterfaceDesc{
					{Number: 0, AltSettings: []usb.InterfaceSetting{setting(0, intrIn)}},
					{Number: 1, AltSettings: []usb.InterfaceSetting{
						setting(0, bulkIn),
						setting(1, bulkIn, bulkOut),
					}},
				},
			},
		},
	}

	cfg, intf, alt, ok := bulkSetting(desc)
	if !ok {
		t.Fatal("bulkSetting() found nothing")
	}
	if cfg != 1 || intf != 1 || alt != 1 {
		t.Errorf("bulkSetting() = %d, %d, %d, want 1, 1, 1", cfg, intf, alt)
	}

	desc.Configs[1].Interfaces[1].AltSettings[1] = setting(1, bulkIn, intrIn)
	if _, _, _, ok := bulkSetting(desc); ok {
		t.Error("bulkSetting() matched a setting without bulk OUT")
	}
}

func TestOpenBadAddress(t *testing.T) {
	_, err := Open(DefaultVendor, DefaultProduct, "bogus")
	if err == nil {
		t.Fatal("Open() with bad address should fail")
	}
}
