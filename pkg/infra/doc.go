// Package infra applies configuration modes to shared network
// infrastructure (the access point under test) and verifies that they took
// effect.
//
// The Controller owns diff tracking and verification; an Adapter knows how
// to talk to one kind of device. UCIAdapter drives OpenWrt routers through
// uci over a dedicated remote session.
package infra
