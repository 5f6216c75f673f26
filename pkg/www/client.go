package www

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Do performs the request, and returns an error for transport failures and non-2xx responses.
// The error includes the start of the response body.
// If client is nil, http.DefaultClient is used.
func Do(client *http.Client, req *http.Request) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error %v", FailedRequestSummary(resp, nil))
	}
	return resp, nil
}

// FetchJSON performs the request, and decodes the JSON response into output
func FetchJSON(client *http.Client, req *http.Request, output any) error {
	resp, err := Do(client, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(output); err != nil {
		return fmt.Errorf("Failed to decode JSON response: %w", err)
	}
	return nil
}

// FailedRequestSummary returns a string that you can emit into a log message, when an HTTP request that you've made fails
func FailedRequestSummary(resp *http.Response, err error) string {
	return FailedRequestSummaryEx(resp, err, 100)
}

// FailedRequestSummaryEx returns a string that you can emit into a log message, when an HTTP request that you've made fails
func FailedRequestSummaryEx(resp *http.Response, err error, maxBodyLen int) string {
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return err.Error()
	}
	txt := resp.Status
	if resp.Body != nil {
		all, _ := io.ReadAll(io.LimitReader(resp.Body, int64(maxBodyLen)+1))
		allStr := string(all)
		txt += "; "
		if len(allStr) > maxBodyLen {
			txt += allStr[:maxBodyLen] + "..."
		} else {
			txt += allStr
		}
		if txt[len(txt)-1] == '\n' {
			txt = txt[:len(txt)-1]
		}
	}
	return txt
}
