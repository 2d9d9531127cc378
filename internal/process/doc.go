// Package process runs helper binaries that stream data on stdout.
//
// A Process is started once and stopped once:
//   - stdout is exposed as an *os.File pipe so readers can set deadlines
//   - stderr lines go to a logger, optionally through a LogParser
//   - Stop sends SIGINT, then SIGKILL after the grace period
//
// Example:
//
//	p := process.New("rpicam-vid", []string{"--codec", "yuv420", "--output", "-"}, logger)
//	if err := p.Start(); err != nil {
//	    return err
//	}
//	defer p.Stop()
//	io.ReadFull(p.Stdout(), frame)
package process
