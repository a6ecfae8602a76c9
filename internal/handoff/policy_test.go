package handoff

import "testing"

func newTestPolicy(t *testing.T, allowedDomains string) *RedirectPolicy {
	t.Helper()

	policy, err := NewRedirectPolicy("https://app.default.com/cb", allowedDomains)
	if err != nil {
		t.Fatalf("failed to build policy: %v", err)
	}
	return policy
}

// 許可リスト判定を検証
func TestRedirectPolicy_Allowed(t *testing.T) {
	tests := []struct {
		name    string
		domains string
		uri     string
		want    bool
	}{
		// ローカル開発は設定に関わらず常に許可
		{"localhost always allowed", "strict.example.com", "http://localhost:5173/cb", true},
		{"loopback always allowed", "strict.example.com", "http://127.0.0.1:3000/", true},

		// 空リストはデフォルトのホストのみ
		{"empty list allows default host", "", "https://app.default.com/other", true},
		{"empty list rejects other hosts", "", "https://other.example.com/cb", false},

		// 完全一致
		{"exact match", "app.example.com", "https://app.example.com/cb", true},
		{"exact mismatch", "app.example.com", "https://api.example.com/cb", false},

		// ワイルドカード
		{"wildcard matches subdomain", "*.example.com", "https://app.example.com/cb", true},
		{"wildcard matches bare domain", "*.example.com", "https://example.com/cb", true},
		{"wildcard matches nested subdomain", "*.example.com", "https://a.b.example.com/cb", true},
		{"wildcard rejects other domain", "*.example.com", "https://evil.com/cb", false},
		{"wildcard rejects suffix trick", "*.example.com", "https://evilexample.com/cb", false},

		// 複数パターン
		{"second pattern matches", "app.one.com, *.two.com", "https://x.two.com/cb", true},
		{"no pattern matches", "app.one.com, *.two.com", "https://three.com/cb", false},

		// 不正入力はフェイルクローズド
		{"no host", "*.example.com", "/relative/path", false},
		{"empty string", "*.example.com", "", false},
		{"unparseable", "*.example.com", "http://[::1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := newTestPolicy(t, tt.domains)
			if got := policy.Allowed(tt.uri); got != tt.want {
				t.Errorf("Allowed(%q) with domains %q = %v, want %v", tt.uri, tt.domains, got, tt.want)
			}
		})
	}
}

// 不許可・空のURIがデフォルトへフォールバックすることを検証
func TestRedirectPolicy_Resolve(t *testing.T) {
	policy := newTestPolicy(t, "*.example.com")

	if got := policy.Resolve("https://app.example.com/done"); got != "https://app.example.com/done" {
		t.Errorf("allowed uri should pass through, got %q", got)
	}
	if got := policy.Resolve("https://evil.com/steal"); got != "https://app.default.com/cb" {
		t.Errorf("rejected uri should fall back to default, got %q", got)
	}
	if got := policy.Resolve(""); got != "https://app.default.com/cb" {
		t.Errorf("empty uri should fall back to default, got %q", got)
	}
}

// デフォルトURI自体の検証を確認
func TestNewRedirectPolicy_InvalidDefault(t *testing.T) {
	if _, err := NewRedirectPolicy("/no-host", ""); err == nil {
		t.Fatal("expected error for default uri without host")
	}
	if _, err := NewRedirectPolicy("http://[::1", ""); err == nil {
		t.Fatal("expected error for unparseable default uri")
	}
}
