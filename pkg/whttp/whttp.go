package whttp

import (
	"context"
	"crypto/tls"
	"io"
	stdlog "log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/html"

	"github.com/sw33tLie/scadrift/internal/utils"
)

const (
	USER_AGENT = "scadrift/1.0 (+https://github.com/sw33tLie/scadrift)"

	// Fallback delay when a 429 response carries no usable Retry-After header.
	RATE_LIMIT_FALLBACK_SECONDS = 5
)

type WHTTPHeader struct {
	Name  string
	Value string
}

type WHTTPReq struct {
	URL     string
	Method  string
	Body    string
	Headers []WHTTPHeader
	Params  map[string]string
}

type WHTTPRes struct {
	StatusCode     int
	ResponseLength int
	HTTPTitle      string
	BodyString     string
	Headers        http.Header
}

var defaultClient = NewClient()

// NewClient returns a retryablehttp client tuned for the Snyk and GitLab APIs:
// transient faults (connection reset, timeout, malformed chunk) and 5xx responses
// are retried with exponential backoff; 429 is never retried here because
// SendHTTPRequest handles it separately, honoring Retry-After without burning
// the backoff budget.
func NewClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = stdlog.New(io.Discard, "", 0)
	client.RetryMax = 4
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 30 * time.Second
	client.CheckRetry = transientRetryPolicy
	return client
}

func transientRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err != nil {
		return true, nil
	}
	if resp != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			return false, nil
		}
		if resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented {
			return true, nil
		}
	}
	return false, nil
}

func GetDefaultClient() *retryablehttp.Client {
	return defaultClient
}

// SetupProxy routes the default client through an HTTP proxy. Useful for debugging.
func SetupProxy(proxy string) error {
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return err
	}
	defaultClient.HTTPClient.Transport = &http.Transport{
		Proxy:           http.ProxyURL(proxyURL),
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	return nil
}

func SendHTTPRequest(wReq *WHTTPReq, client *retryablehttp.Client) (wRes *WHTTPRes, err error) {
	if client == nil {
		client = defaultClient
	}

	requestURL := wReq.URL
	if len(wReq.Params) > 0 {
		values := url.Values{}
		for k, v := range wReq.Params {
			values.Set(k, v)
		}
		if strings.Contains(requestURL, "?") {
			requestURL += "&" + values.Encode()
		} else {
			requestURL += "?" + values.Encode()
		}
	}

	for {
		var req *retryablehttp.Request
		var body io.Reader
		if wReq.Body != "" {
			body = strings.NewReader(wReq.Body)
		}
		req, err = retryablehttp.NewRequest(wReq.Method, requestURL, body)
		if err != nil {
			return nil, err
		}

		req.Header.Set("User-Agent", USER_AGENT)
		req.Header.Set("Accept", "*/*")
		req.Header.Set("Accept-Language", "en")
		for _, h := range wReq.Headers {
			req.Header.Set(h.Name, h.Value)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}

		bodyBytes, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			delay := retryAfterDelay(resp.Header)
			utils.Log.Debug("Rate limited, sleeping for ", delay, " before retrying ", requestURL)
			time.Sleep(delay)
			continue
		}

		wRes = &WHTTPRes{
			StatusCode: resp.StatusCode,
			BodyString: string(bodyBytes),
			Headers:    resp.Header,
		}
		if title, ok := getHTMLTitle(wRes.BodyString); ok {
			wRes.HTTPTitle = strings.ToValidUTF8(strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(title, "\n", ""), "\r", "")), "")
		}
		wRes.ResponseLength = utf8.RuneCountInString(wRes.BodyString)
		return wRes, nil
	}
}

// retryAfterDelay parses a Retry-After header, accepting both delta-seconds
// and HTTP-date forms. Absent or unparseable values fall back to a fixed delay.
func retryAfterDelay(headers http.Header) time.Duration {
	value := headers.Get("Retry-After")
	if value == "" {
		return RATE_LIMIT_FALLBACK_SECONDS * time.Second
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return RATE_LIMIT_FALLBACK_SECONDS * time.Second
}

func isTitleElement(n *html.Node) bool {
	return n.Type == html.ElementNode && n.Data == "title"
}

func traverse(n *html.Node) (string, bool) {
	if isTitleElement(n) {
		if n.FirstChild != nil {
			return n.FirstChild.Data, true
		}
		return "", true
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		result, ok := traverse(c)
		if ok {
			return result, ok
		}
	}

	return "", false
}

// getHTMLTitle pulls the <title> of an HTML error page, if any. Both APIs
// normally answer JSON, so a title is a strong hint that something upstream
// (proxy, SSO portal) intercepted the call.
func getHTMLTitle(requestBody string) (string, bool) {
	doc, err := html.Parse(strings.NewReader(requestBody))
	if err != nil {
		return "", false
	}

	return traverse(doc)
}
