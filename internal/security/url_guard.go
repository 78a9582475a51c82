// Package security はマーケットプレイスへのリクエストを安全に行うための機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"

	"github.com/hitoshi/listingsweep/internal/model"
)

// URLGuardService は出品URLの検証とSSRF防止付きHTTPクライアントの生成を行う。
type URLGuardService interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// プライベートIP、ループバック、リンクローカル、メタデータIPへのリクエストは
	// safeurlによりDialerレベルでブロックされる。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL は出品URLが許可されたマーケットプレイスのものかを検証する。
	ValidateURL(rawURL string) error
}

// allowedSchemes は出品URLで許可されるスキーム。
var allowedSchemes = []string{"http", "https"}

// URLGuard はURLGuardServiceの実装。
// 許可ホスト自身とそのサブドメイン（www.など）へのURLのみを通す。
type URLGuard struct {
	allowedHost string
}

// NewURLGuard はURLGuardを生成する。allowedHostは "vinted.fr" のようなホスト名。
func NewURLGuard(allowedHost string) *URLGuard {
	return &URLGuard{allowedHost: strings.ToLower(allowedHost)}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスを検証するため、
// DNS再バインディング攻撃にも対応している。
func (g *URLGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	wrappedClient := safeurl.Client(config)
	return wrappedClient.Client
}

// ValidateURL は出品URLを静的に検証する。
// 不正な場合はmodel.ErrURLNotAllowedをラップしたエラーを返す。
func (g *URLGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty URL", model.ErrURLNotAllowed)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %v", model.ErrURLNotAllowed, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("%w: disallowed scheme: %s (allowed: %v)", model.ErrURLNotAllowed, scheme, allowedSchemes)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty host in URL: %s", model.ErrURLNotAllowed, rawURL)
	}

	// IPアドレス直指定はマーケットプレイスのURLではない
	if net.ParseIP(host) != nil {
		return fmt.Errorf("%w: IP address host: %s", model.ErrURLNotAllowed, host)
	}

	if !g.isAllowedHost(host) {
		return fmt.Errorf("%w: host %s is outside %s", model.ErrURLNotAllowed, host, g.allowedHost)
	}

	return nil
}

func (g *URLGuard) isAllowedHost(host string) bool {
	return host == g.allowedHost || strings.HasSuffix(host, "."+g.allowedHost)
}

// isAllowedScheme はURLスキームが許可リストに含まれるかを検証する。
func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}
