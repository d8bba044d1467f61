package agent

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/fleetbench/fleetbench-go/pkg/model"
)

// Response markers printed by the agent.
const (
	markerSuccess = "RESULT:SUCCESS"
	markerFailure = "RESULT:FAILURE"
	prefixError   = "ERROR:"
	prefixCode    = "CODE:"
)

// Script is the agent entry point inside the work directory.
const Script = "agent.py"

// Args are command arguments, encoded as --key value.
type Args map[string]string

// Request is one agent command.
type Request struct {
	Module  string
	Command string
	Args    Args

	// Timeout overrides the client default when non-zero.
	Timeout time.Duration
}

// EncodeArgs renders args as --key value pairs in key order. Values
// containing spaces or quotes are double quoted.
func EncodeArgs(args Args) string {
	parts := make([]string, 0, len(args))
	for _, k := range slices.Sorted(maps.Keys(args)) {
		parts = append(parts, "--"+k+" "+quoteArg(args[k]))
	}
	return strings.Join(parts, " ")
}

func quoteArg(v string) string {
	if v == "" {
		return `""`
	}
	if !strings.ContainsAny(v, " \t\"") {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

// CommandLine builds the remote command for req on dev, run from dir.
func CommandLine(dev model.Device, dir string, req Request) string {
	inner := fmt.Sprintf("%s %s %s %s", dev.InterpreterOrDefault(), Script, req.Module, req.Command)
	if a := EncodeArgs(req.Args); a != "" {
		inner += " " + a
	}
	if dev.OS == model.OSWindows {
		return fmt.Sprintf(`cmd /c "cd /d %s && %s"`, dir, inner)
	}
	return fmt.Sprintf("cd %s && %s", dir, inner)
}

// Response is a parsed agent reply.
type Response struct {
	Success bool

	// Payload is the output with protocol markers removed.
	Payload string

	Message string
	Code    string
}

// ParseResponse interprets agent output and exit status. A reply is a
// success only if it carries RESULT:SUCCESS and no ERROR line and the
// process exited 0.
func ParseResponse(output string, exitStatus int) Response {
	var (
		resp    Response
		payload []string
		success bool
		failure bool
	)
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == markerSuccess:
			success = true
		case trimmed == markerFailure:
			failure = true
		case strings.HasPrefix(trimmed, prefixError):
			failure = true
			if resp.Message == "" {
				resp.Message = strings.TrimSpace(strings.TrimPrefix(trimmed, prefixError))
			}
		case strings.HasPrefix(trimmed, prefixCode):
			resp.Code = strings.TrimSpace(strings.TrimPrefix(trimmed, prefixCode))
		default:
			payload = append(payload, strings.TrimRight(line, "\r"))
		}
	}
	resp.Payload = strings.TrimSpace(strings.Join(payload, "\n"))
	resp.Success = success && !failure && exitStatus == 0

	if !resp.Success && resp.Message == "" {
		switch {
		case failure:
			resp.Message = "command reported failure"
		case exitStatus != 0:
			resp.Message = fmt.Sprintf("exit status %d", exitStatus)
			if resp.Payload != "" {
				resp.Message += ": " + lastLine(resp.Payload)
			}
		default:
			resp.Message = "no result marker in output"
		}
	}
	if !resp.Success && resp.Code == "" && exitStatus != 0 {
		resp.Code = fmt.Sprint(exitStatus)
	}
	return resp
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
