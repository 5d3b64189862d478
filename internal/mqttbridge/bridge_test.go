package mqttbridge

import "testing"

func TestCommandSerial(t *testing.T) {
	cases := []struct {
		topic string
		want  string
	}{
		{"kumowatch/devices/SN-A/set", "SN-A"},
		{"kumowatch/devices/SN-A/state", ""},
		{"kumowatch/devices/set", ""},
		{"kumowatch/devices/SN-A/nested/set", ""},
		{"other/devices/SN-A/set", ""},
	}
	for _, tc := range cases {
		if got := commandSerial("kumowatch", tc.topic); got != tc.want {
			t.Errorf("commandSerial(%q) = %q, want %q", tc.topic, got, tc.want)
		}
	}
}
