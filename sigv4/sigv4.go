// Package sigv4 implements the Auth Gate: AWS Signature Version 4 request
// validation, header-signed or query-signed, against a single static
// access-key/secret-key pair configured at startup.
//
// Known limitation, ported verbatim from the reference: the canonical-query
// construction below does not re-URL-encode query values before joining
// them. Clients that send already-encoded values may fail to validate even
// with a correct signature (SPEC_FULL.md §9 note 3).
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Credentials is the single static access-key/secret-key pair every request
// is validated against; there is no per-user credential store.
type Credentials struct {
	AccessKey string
	SecretKey string
}

const dateLayout = "20060102T150405Z"

// Middleware returns a gin.HandlerFunc that aborts with 401 (empty body)
// unless the inbound request carries a valid header-signed or
// query-signed SigV4 signature under creds.
func Middleware(creds Credentials) gin.HandlerFunc {
	return func(c *gin.Context) {
		var ok bool
		if c.GetHeader("Authorization") != "" {
			ok = validHeader(c.Request, creds)
		} else if c.Query("X-Amz-Credential") != "" {
			ok = validQuery(c.Request, creds, time.Now())
		}
		if !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

// validHeader implements the header-signed path: Authorization:
// AWS4-HMAC-SHA256 Credential=...,SignedHeaders=...,Signature=... plus
// x-amz-date and x-amz-content-sha256.
func validHeader(r *http.Request, creds Credentials) bool {
	authorization := r.Header.Get("Authorization")
	requestDate := r.Header.Get("x-amz-date")
	contentHash := r.Header.Get("x-amz-content-sha256")
	if authorization == "" || requestDate == "" || contentHash == "" {
		return false
	}

	parts := strings.Split(strings.TrimSpace(authorization), ",")
	if len(parts) != 3 {
		return false
	}
	credential := fieldAfterEquals(parts[0])
	creds5 := strings.Split(credential, "/")
	if len(creds5) != 5 {
		return false
	}
	accessKey, date, region, service, aws4Request := creds5[0], creds5[1], creds5[2], creds5[3], creds5[4]
	if accessKey != creds.AccessKey {
		return false
	}

	signedHeaderList := fieldAfterEquals(parts[1])
	signature := fieldAfterEquals(parts[2])
	if signedHeaderList == "" || signature == "" {
		return false
	}

	canonical := canonicalRequest(r, strings.Split(signedHeaderList, ";"), signedHeaderList, contentHash)
	stringToSign := stringToSign(requestDate, date, region, service, aws4Request, canonical)
	expected := signatureFor(creds.SecretKey, date, region, service, aws4Request, stringToSign)

	return hmac.Equal([]byte(expected), []byte(signature))
}

// validQuery implements the query-signed (presigned URL) path.
func validQuery(r *http.Request, creds Credentials, now time.Time) bool {
	q := r.URL.Query()
	credential := q.Get("X-Amz-Credential")
	requestDate := q.Get("X-Amz-Date")
	signedHeaderList := q.Get("X-Amz-SignedHeaders")
	signature := q.Get("X-Amz-Signature")
	expiresStr := q.Get("X-Amz-Expires")
	if credential == "" || requestDate == "" || signedHeaderList == "" || signature == "" || expiresStr == "" {
		return false
	}

	creds5 := strings.Split(credential, "/")
	if len(creds5) != 5 {
		return false
	}
	accessKey, date, region, service, aws4Request := creds5[0], creds5[1], creds5[2], creds5[3], creds5[4]
	if accessKey != creds.AccessKey {
		return false
	}

	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return false
	}
	requestTime, err := time.Parse(dateLayout, requestDate)
	if err != nil {
		return false
	}
	if requestTime.Add(time.Duration(expires) * time.Second).Before(now) {
		return false
	}

	// The presented signature is not part of what it signs, so
	// X-Amz-Signature is dropped from the query before canonicalizing.
	unsigned := r.Clone(r.Context())
	uq := unsigned.URL.Query()
	uq.Del("X-Amz-Signature")
	unsigned.URL.RawQuery = uq.Encode()

	canonical := canonicalRequest(unsigned, strings.Split(signedHeaderList, ";"), signedHeaderList, "UNSIGNED-PAYLOAD")
	stringToSign := stringToSign(requestDate, date, region, service, aws4Request, canonical)
	expected := signatureFor(creds.SecretKey, date, region, service, aws4Request, stringToSign)

	return hmac.Equal([]byte(expected), []byte(signature))
}

// canonicalRequest builds METHOD \n URI \n canonical-query \n
// signed-headers-block \n \n signed-header-names \n payload-hash.
func canonicalRequest(r *http.Request, signedHeaders []string, signedHeaderList, payloadHash string) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('\n')
	b.WriteString(r.URL.Path)
	b.WriteByte('\n')
	b.WriteString(canonicalQuery(r.URL))
	b.WriteByte('\n')
	for _, name := range signedHeaders {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(r.Header.Get(name))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(signedHeaderList)
	b.WriteByte('\n')
	b.WriteString(payloadHash)
	return b.String()
}

// canonicalQuery sorts query parameters by key and joins them as k=v&...
// with a trailing & trimmed. Values are NOT re-encoded (§9 note 3): this
// mirrors the reference's parse-then-rejoin behavior exactly.
func canonicalQuery(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range values[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}

func stringToSign(requestDate, date, region, service, aws4Request, canonical string) string {
	scope := date + "/" + region + "/" + service + "/" + aws4Request
	hashed := sha256.Sum256([]byte(canonical))
	return "AWS4-HMAC-SHA256\n" + requestDate + "\n" + scope + "\n" + hex.EncodeToString(hashed[:])
}

func signatureFor(secretKey, date, region, service, aws4Request, stringToSign string) string {
	kDate := hmacSum([]byte("AWS4"+secretKey), date)
	kRegion := hmacSum(kDate, region)
	kService := hmacSum(kRegion, service)
	signingKey := hmacSum(kService, aws4Request)
	sig := hmacSum(signingKey, stringToSign)
	return hex.EncodeToString(sig)
}

func hmacSum(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

// fieldAfterEquals returns the substring after the first '=' in a
// "Key=Value" component, trimmed of surrounding whitespace.
func fieldAfterEquals(s string) string {
	i := strings.IndexByte(s, '=')
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(s[i+1:])
}
