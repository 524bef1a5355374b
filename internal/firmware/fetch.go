package firmware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dualsense-tools/dsud/internal/hid"
)

const fetchBaseURL = "https://fwupdater.dl.playstation.net/fwupdater/"

// Fetcher downloads released firmware images from the vendor update CDN.
type Fetcher struct {
	client  *http.Client
	baseURL string
}

// NewFetcher returns a Fetcher with sane timeouts. baseURL overrides the
// vendor CDN for tests; pass "" for the default.
func NewFetcher(baseURL string) *Fetcher {
	if baseURL == "" {
		baseURL = fetchBaseURL
	}
	return &Fetcher{
		client:  &http.Client{Timeout: 5 * time.Minute},
		baseURL: baseURL,
	}
}

type versionInfo struct {
	DualSense *string `json:"FwUpdate0004LatestVersion"`
	Edge      *string `json:"FwUpdate0044LatestVersion"`
}

// LatestVersion returns the newest published firmware version string for the
// given product.
func (f *Fetcher) LatestVersion(ctx context.Context, productID uint16) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"info.json", nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch version info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch version info: status %s", resp.Status)
	}

	var info versionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode version info: %w", err)
	}

	switch productID {
	case hid.ProductDualSense:
		if info.DualSense == nil {
			return "", fmt.Errorf("no DualSense version in info.json")
		}
		return *info.DualSense, nil
	case hid.ProductEdge:
		if info.Edge == nil {
			return "", fmt.Errorf("no DualSense Edge version in info.json")
		}
		return *info.Edge, nil
	default:
		return "", fmt.Errorf("unknown product id 0x%04x", productID)
	}
}

// Download fetches the firmware payload for the given product and version.
// progress, if non-nil, is called with 0..100 as bytes arrive.
func (f *Fetcher) Download(ctx context.Context, productID uint16, version string, progress func(pct int)) ([]byte, error) {
	var dir, file string
	switch productID {
	case hid.ProductDualSense:
		dir, file = "fwupdate0004", "FWUPDATE0004.bin"
	case hid.ProductEdge:
		dir, file = "fwupdate0044", "FWUPDATE0044.bin"
	default:
		return nil, fmt.Errorf("unknown product id 0x%04x", productID)
	}

	url := fmt.Sprintf("%s%s/%s/%s", f.baseURL, dir, version, file)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download firmware: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download firmware: status %s", resp.Status)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = ImageSize
	}

	if progress != nil {
		progress(0)
	}
	data := make([]byte, 0, ImageSize)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
			if progress != nil {
				progress(min(int(int64(len(data))*100/total), 100))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("download interrupted: %w", err)
		}
	}
	if progress != nil {
		progress(100)
	}
	return data, nil
}
