package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-mjpeg"
	"github.com/spf13/cobra"
)

// CreateGrabCmd creates the grab command.
func CreateGrabCmd() *cobra.Command {
	var (
		url     string
		count   int
		outDir  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "grab",
		Short: "Save frames from a running video feed",
		Long:  `Connects to a camfeed (or any MJPEG) stream and writes the next N frames as numbered JPEG files.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count < 1 {
				return fmt.Errorf("count must be at least 1, got %d", count)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			paths, err := Grab(ctx, url, count, outDir)
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8000/api/camera/video_feed", "Video feed URL")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of frames to save")
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "Directory for the JPEG files")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Give up after this long")

	return cmd
}

// Grab reads count frames from the multipart stream at url and writes them
// to outDir as frame-0001.jpg and so on. It returns the files written, even
// on error.
func Grab(ctx context.Context, url string, count int, outDir string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", url, resp.Status)
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || params["boundary"] == "" {
		return nil, fmt.Errorf("%s: not a multipart stream (%q)", url, mediaType)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}

	dec := mjpeg.NewDecoder(resp.Body, params["boundary"])
	var written []string
	for i := 1; i <= count; i++ {
		data, err := dec.DecodeRaw()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return written, fmt.Errorf("frame %d: %w", i, err)
		}
		if _, err := jpeg.DecodeConfig(bytes.NewReader(data)); err != nil {
			return written, fmt.Errorf("frame %d is not a JPEG: %w", i, err)
		}

		path := filepath.Join(outDir, fmt.Sprintf("frame-%04d.jpg", i))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
