package mexcspot

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

// hmacSigner signs requests the way most centralized spot exchanges
// expect: an API-key header plus an HMAC-SHA256 signature of the query
// string, computed with a per-user secret.
type hmacSigner struct{}

func (hmacSigner) SignRequest(req *http.Request, apiKey, apiSecret string) error {
	req.Header.Set("X-MEXC-APIKEY", apiKey)

	q := req.URL.Query()
	if q.Get("timestamp") == "" {
		q.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	}

	queryString := q.Encode()
	mac := hmac.New(sha256.New, []byte(apiSecret))
	mac.Write([]byte(queryString))
	signature := hex.EncodeToString(mac.Sum(nil))

	q.Set("signature", signature)
	req.URL.RawQuery = q.Encode()
	return nil
}
