package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fleetbench/fleetbench-go/pkg/model"
)

func TestEncodeArgs(t *testing.T) {
	tests := []struct {
		name string
		args Args
		want string
	}{
		{"empty", nil, ""},
		{"sorted", Args{"ssid": "lab", "password": "pw"}, "--password pw --ssid lab"},
		{"spaces quoted", Args{"ssid": "Test Lab 5G"}, `--ssid "Test Lab 5G"`},
		{"embedded quote", Args{"ssid": `a "b"`}, `--ssid "a \"b\""`},
		{"empty value", Args{"password": ""}, `--password ""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeArgs(tt.args))
		})
	}
}

func TestCommandLine(t *testing.T) {
	req := Request{Module: "wifi", Command: "iperf", Args: Args{"port": "5203"}}

	linux := model.Device{ID: "a", OS: model.OSLinux}
	assert.Equal(t,
		"cd /tmp/wifi_test_agent && python3 agent.py wifi iperf --port 5203",
		CommandLine(linux, DefaultLinuxDir, req))

	win := model.Device{ID: "b", OS: model.OSWindows}
	assert.Equal(t,
		`cmd /c "cd /d C:\Temp\wifi_test_agent && python agent.py wifi iperf --port 5203"`,
		CommandLine(win, DefaultWindowsDir, req))

	custom := model.Device{ID: "c", OS: model.OSLinux, Interpreter: "/opt/py/bin/python3"}
	assert.Equal(t,
		"cd /srv/agent && /opt/py/bin/python3 agent.py wifi forget",
		CommandLine(custom, "/srv/agent", Request{Module: "wifi", Command: "forget"}))
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		status  int
		success bool
		payload string
		message string
		code    string
	}{
		{
			name:    "success no payload",
			output:  "RESULT:SUCCESS",
			success: true,
		},
		{
			name:    "success with payload",
			output:  "RESULT:SUCCESS\nREPORT_PATH:/tmp/r.html",
			success: true,
			payload: "REPORT_PATH:/tmp/r.html",
		},
		{
			name:    "failure marker",
			output:  "RESULT:FAILURE",
			status:  1,
			message: "command reported failure",
			code:    "1",
		},
		{
			name:    "error message and code",
			output:  "ERROR:Unknown command: scan\nCODE:E_CMD",
			status:  1,
			message: "Unknown command: scan",
			code:    "E_CMD",
		},
		{
			name:    "error with space after colon",
			output:  "ERROR: Failed to load plugin 'bt': no module",
			status:  1,
			message: "Failed to load plugin 'bt': no module",
			code:    "1",
		},
		{
			name:    "crash without markers",
			output:  "Traceback (most recent call last):\nImportError: no module named x",
			status:  1,
			payload: "Traceback (most recent call last):\nImportError: no module named x",
			message: "exit status 1: ImportError: no module named x",
			code:    "1",
		},
		{
			name:    "success marker but non-zero exit",
			output:  "RESULT:SUCCESS",
			status:  2,
			message: "exit status 2",
			code:    "2",
		},
		{
			name:    "no marker",
			output:  "hello",
			payload: "hello",
			message: "no result marker in output",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ParseResponse(tt.output, tt.status)
			assert.Equal(t, tt.success, r.Success)
			assert.Equal(t, tt.payload, r.Payload)
			assert.Equal(t, tt.message, r.Message)
			assert.Equal(t, tt.code, r.Code)
		})
	}
}
