package firmware

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dualsense-tools/dsud/internal/hid"
)

// testImage builds a minimal valid payload targeting the given product.
func testImage(t *testing.T, size int, productID, version uint16) ([]byte, uint32) {
	t.Helper()
	require.GreaterOrEqual(t, size, minImageLen)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	binary.LittleEndian.PutUint16(data[offProductID:], productID)
	binary.LittleEndian.PutUint16(data[offVersion:], version)
	return data, crc32.ChecksumIEEE(data)
}

func TestLoadValidImage(t *testing.T) {
	data, sum := testImage(t, 4096, hid.ProductDualSense, 0x0442)

	img, err := Load(data, len(data), sum)
	require.NoError(t, err)
	assert.Equal(t, hid.ProductDualSense, img.ProductID())
	assert.Equal(t, uint16(0x0442), img.Version())
	assert.Equal(t, 4096, img.Size())
	assert.Equal(t, sum, img.Checksum())

	// loaded image is a copy
	data[200]++
	assert.NotEqual(t, data[200], img.Bytes()[200])
}

func TestLoadRejections(t *testing.T) {
	data, sum := testImage(t, 4096, hid.ProductDualSense, 1)

	_, err := Load(data, len(data)+1, sum)
	assert.ErrorIs(t, err, ErrSizeMismatch)

	_, err = Load(data, len(data), sum+1)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	short := data[:0x40]
	_, err = Load(short, len(short), crc32.ChecksumIEEE(short))
	assert.ErrorIs(t, err, ErrImageTooSmall)
}

func TestCheckCompatibility(t *testing.T) {
	data, sum := testImage(t, 4096, hid.ProductEdge, 1)
	img, err := Load(data, len(data), sum)
	require.NoError(t, err)

	assert.NoError(t, img.CheckCompatibility(hid.ProductEdge))

	err = img.CheckCompatibility(hid.ProductDualSense)
	var ie *IncompatibleImageError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, hid.ProductEdge, ie.ImageProduct)
	assert.Equal(t, hid.ProductDualSense, ie.DeviceProduct)
}

func TestFetcherLatestVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/info.json", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"FwUpdate0004LatestVersion": "23.01.00.02",
			"FwUpdate0044LatestVersion": "23.02.00.01",
		})
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL + "/")

	v, err := f.LatestVersion(context.Background(), hid.ProductDualSense)
	require.NoError(t, err)
	assert.Equal(t, "23.01.00.02", v)

	v, err = f.LatestVersion(context.Background(), hid.ProductEdge)
	require.NoError(t, err)
	assert.Equal(t, "23.02.00.01", v)

	_, err = f.LatestVersion(context.Background(), 0x1234)
	assert.Error(t, err)
}

func TestFetcherDownload(t *testing.T) {
	payload := make([]byte, 2048)
	for i := range payload {
		payload[i] = byte(i)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fwupdate0004/23.01.00.02/FWUPDATE0004.bin", r.URL.Path)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL + "/")

	var last int
	data, err := f.Download(context.Background(), hid.ProductDualSense, "23.01.00.02", func(pct int) { last = pct })
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, 100, last)
}
