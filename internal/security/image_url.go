package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrUnsafeURL はURLが画像URLとして受け付けられないことを示す。
var ErrUnsafeURL = errors.New("unsafe image url")

// maxImageURLLength は受け付けるURLの最大長。
const maxImageURLLength = 2048

// blockedNetworks は静的検証でブロックするネットワーク範囲。
// 名前解決後のIPはsafeurlのクライアント側でも検証される。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16", // クラウドのメタデータIPを含む
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// ImageURLVerifier はアバターやアイキャッチ画像のURLを検証する。
// 静的検証に加え、プローブが有効な場合はSSRF対策済みクライアントでHEADリクエストを送り、
// 画像が取得可能かを確認する。
type ImageURLVerifier struct {
	client *http.Client
}

// ImageURLVerifierOption は ImageURLVerifier の設定関数。
type ImageURLVerifierOption func(*ImageURLVerifier)

// WithHTTPClient はプローブに使用するHTTPクライアントを差し替える。
func WithHTTPClient(c *http.Client) ImageURLVerifierOption {
	return func(v *ImageURLVerifier) {
		v.client = c
	}
}

// NewImageURLVerifier は ImageURLVerifier を生成する。
// probeTimeout が0以下の場合はプローブを行わず静的検証のみとする。
func NewImageURLVerifier(probeTimeout time.Duration, opts ...ImageURLVerifierOption) *ImageURLVerifier {
	v := &ImageURLVerifier{}
	if probeTimeout > 0 {
		config := safeurl.GetConfigBuilder().
			SetTimeout(probeTimeout).
			SetAllowedSchemes("https").
			SetAllowedPorts(443).
			Build()
		v.client = safeurl.Client(config).Client
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify はURLを検証する。空文字は「画像なし」として常に受け付ける。
// 受け付けられない場合は ErrUnsafeURL をラップしたエラーを返す。
func (v *ImageURLVerifier) Verify(ctx context.Context, rawURL string) error {
	if rawURL == "" {
		return nil
	}
	if err := ValidateImageURL(rawURL); err != nil {
		return err
	}
	if v.client == nil {
		return nil
	}
	return v.probe(ctx, rawURL)
}

// ValidateImageURL は名前解決を伴わない静的検証を行う。
// https のみ許可し、プライベートIP・ループバック・リンクローカル宛てとlocalhostを拒否する。
func ValidateImageURL(rawURL string) error {
	if len(rawURL) > maxImageURLLength {
		return fmt.Errorf("%w: too long", ErrUnsafeURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrUnsafeURL, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in url", ErrUnsafeURL)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrUnsafeURL)
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("%w: blocked host %s", ErrUnsafeURL, host)
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, n := range blockedNetworks {
			if n.Contains(ip) {
				return fmt.Errorf("%w: blocked address %s", ErrUnsafeURL, ip)
			}
		}
	}
	return nil
}

// probe はHEADリクエストで画像の存在とContent-Typeを確認する。
// Content-Typeを返さないサーバーは許容する。
func (v *ImageURLVerifier) probe(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	req.Header.Set("User-Agent", "GuideHub-ImageCheck/1.0")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: probe failed: %v", ErrUnsafeURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: probe returned status %d", ErrUnsafeURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "image/") {
		return fmt.Errorf("%w: content type %q is not an image", ErrUnsafeURL, ct)
	}
	return nil
}
