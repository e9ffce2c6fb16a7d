// Package video samples camera frames on a fixed cadence and hands
// each JPEG payload to the outbound chunk sender.
package video
