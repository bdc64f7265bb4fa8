package serviceauth_test

import (
	"testing"

	"github.com/tmstack/trustplane/pkg/serviceauth"
)

func TestParseAuthorization(t *testing.T) {
	cases := []struct {
		name   string
		header string
		kind   serviceauth.Kind
		token  string
	}{
		{"empty", "", serviceauth.KindNone, ""},
		{"shared secret", "Service s3cret", serviceauth.KindSharedSecret, "s3cret"},
		{"scheme case insensitive", "SERVICE s3cret", serviceauth.KindSharedSecret, "s3cret"},
		{"signed bearer", "ServiceBearer eyJ.abc.def", serviceauth.KindSignedBearer, "eyJ.abc.def"},
		{"signed bearer lowercase", "servicebearer tok", serviceauth.KindSignedBearer, "tok"},
		{"surrounding whitespace", "  Service s3cret  ", serviceauth.KindSharedSecret, "s3cret"},
		{"unknown scheme", "Bearer tok", serviceauth.KindNone, ""},
		{"scheme without token", "Service", serviceauth.KindNone, ""},
		{"too many parts", "Service a b", serviceauth.KindNone, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := serviceauth.ParseAuthorization(tc.header)
			if got.Kind != tc.kind {
				t.Fatalf("kind: want %v, got %v", tc.kind, got.Kind)
			}
			if got.Token != tc.token {
				t.Fatalf("token: want %q, got %q", tc.token, got.Token)
			}
		})
	}
}
