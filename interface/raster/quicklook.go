package raster

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/cavaliercoder/grab"

	"github.com/tesseraeo/tessera-client-go/service"
	"github.com/tesseraeo/tessera-client-go/service/log"
)

func fmtBytes(bytes int64) string {
	v := float64(bytes)
	switch {
	case v > 1<<30:
		return fmt.Sprintf("%.2fGo", v/(1<<30))
	case v > 1<<20:
		return fmt.Sprintf("%.2fMo", v/(1<<20))
	case v > 1<<10:
		return fmt.Sprintf("%.2fko", v/(1<<10))
	default:
		return fmt.Sprintf("%.2fo", v)
	}
}

func displayProgress(ctx context.Context, prefix string, resp *grab.Response, progressPeriod float64) {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	progress, lastBytes, seconds := 0.0, int64(0), int64(0)
	for {
		select {
		case <-t.C:
			seconds++
			if resp.Progress() > progress {
				log.Logger(ctx).Sugar().Debugf("%s: %.2f%% %s/%s (%s/s)", prefix, 100*resp.Progress(), fmtBytes(resp.BytesComplete()), fmtBytes(resp.Size), fmtBytes((resp.BytesComplete()-lastBytes)/seconds))
				seconds = 0
				progress += progressPeriod
				lastBytes = resp.BytesComplete()
			}

		case <-resp.Done:
			return
		}
	}
}

// DownloadQuicklook fetches the preview image of the scene into localDir and
// returns the local file path. Download progress is logged every 5%.
func (c *Client) DownloadQuicklook(ctx context.Context, sceneID, localDir string) (string, error) {
	local := filepath.Join(localDir, strings.ReplaceAll(sceneID, ":", "_")+".png")
	req, err := grab.NewRequest(local, c.url+"/quicklook/"+url.PathEscape(sceneID))
	if err != nil {
		return "", fmt.Errorf("DownloadQuicklook.NewRequest: %w", err)
	}
	req = req.WithContext(ctx)

	client := grab.NewClient()
	client.HTTPClient = c.httpClient
	resp := client.Do(req)

	displayProgress(ctx, "quicklook:"+sceneID, resp, 0.05)

	if err := resp.Err(); err != nil {
		err = fmt.Errorf("DownloadQuicklook[%s]: %w", req.URL(), err)
		if resp.HTTPResponse == nil {
			return "", service.MakeTemporary(err)
		}
		switch resp.HTTPResponse.StatusCode {
		case 404:
			return "", &NotFoundError{Keys: []string{sceneID}}
		case 408, 429, 500, 501, 502, 503, 504:
			return "", service.MakeTemporary(err)
		default:
			return "", err
		}
	}
	return local, nil
}
