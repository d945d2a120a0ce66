package oauth

import (
	"bytes"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

// ChallengeType 验证页面类型
type ChallengeType string

const (
	// ChallengeTurnstile Turnstile 组件
	ChallengeTurnstile ChallengeType = "turnstile"
	// ChallengeBrowser 浏览器自动验证页
	ChallengeBrowser ChallengeType = "browser_challenge"
	// ChallengeRateLimit HTTP 429
	ChallengeRateLimit ChallengeType = "rate_limit"
)

const (
	turnstileClass    = "cf-turnstile"
	turnstileSiteKey  = "data-sitekey"
	legacyChallengeMk = "just a moment"
)

var challengeStageIDs = map[string]struct{}{
	"challenge-stage":      {},
	"cf-challenge-running": {},
}

// Challenge Provider 返回的验证页面（代替正常 JSON 响应）
// 构造后不可修改，Data 返回副本
type Challenge struct {
	Type    ChallengeType
	SiteKey string
	data    map[string]any
}

// Data 返回 challenge_data 的副本
func (c *Challenge) Data() map[string]any {
	out := make(map[string]any, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// markers 单次扫描 HTML 得到的标记
type markers struct {
	turnstile bool
	siteKey   string
	stage     bool
	legacy    bool
}

// Detect 检测响应是否为验证页面，未命中返回 nil
// 优先级固定：turnstile > browser_challenge > rate_limit
func Detect(statusCode int, body []byte) *Challenge {
	m := scanMarkers(body)

	switch {
	case m.turnstile:
		return &Challenge{
			Type:    ChallengeTurnstile,
			SiteKey: m.siteKey,
			data:    map[string]any{"turnstile_present": true},
		}
	case m.stage:
		return &Challenge{
			Type: ChallengeBrowser,
			data: map[string]any{"challenge_stage_present": true},
		}
	case m.legacy:
		return &Challenge{
			Type: ChallengeBrowser,
			data: map[string]any{"legacy_detection": true},
		}
	case statusCode == http.StatusTooManyRequests:
		return &Challenge{
			Type: ChallengeRateLimit,
			data: map[string]any{"status_code": "429"},
		}
	}
	return nil
}

func scanMarkers(body []byte) markers {
	var m markers
	if len(bytes.TrimSpace(body)) == 0 {
		return m
	}
	// JSON 响应不会包含 HTML 标记
	if trimmed := bytes.TrimSpace(body); trimmed[0] == '{' || trimmed[0] == '[' {
		return m
	}

	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return m
		case html.TextToken:
			if !m.legacy && strings.Contains(strings.ToLower(string(z.Text())), legacyChallengeMk) {
				m.legacy = true
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			inspectTag(z, &m)
		}
	}
}

func inspectTag(z *html.Tokenizer, m *markers) {
	_, hasAttr := z.TagName()
	if !hasAttr {
		return
	}
	var isTurnstile bool
	var siteKey string
	for {
		key, val, more := z.TagAttr()
		switch string(key) {
		case "class":
			for _, cls := range strings.Fields(string(val)) {
				if cls == turnstileClass {
					isTurnstile = true
				}
			}
		case "id":
			if _, ok := challengeStageIDs[string(val)]; ok {
				m.stage = true
			}
		case turnstileSiteKey:
			siteKey = string(val)
		}
		if !more {
			break
		}
	}
	if isTurnstile && !m.turnstile {
		m.turnstile = true
		m.siteKey = siteKey
	}
}
