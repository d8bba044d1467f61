package remote

import "testing"

func TestSFTPPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/tmp/wifi_test_agent", "/tmp/wifi_test_agent"},
		{`C:\Temp\wifi_test_agent`, "/C:/Temp/wifi_test_agent"},
		{"C:/Temp", "/C:/Temp"},
	}
	for _, tt := range tests {
		if got := sftpPath(tt.in); got != tt.want {
			t.Errorf("sftpPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
