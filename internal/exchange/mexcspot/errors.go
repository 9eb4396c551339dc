package mexcspot

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	apperrors "gridcore/pkg/errors"
	"gridcore/internal/exchange/httpx"
)

// exchangeErrorCode is the wire shape most spot exchanges use for error
// bodies: a numeric code plus a human message.
type exchangeErrorCode struct {
	Code int    `json:"code"`
	Msg   string `json:"msg"`
}

// classify maps a transport-level error into the apperrors taxonomy.
// Network errors and 5xx/429 are ErrTransient; everything
// else is decoded from the response body's exchange-specific code.
func classify(err error) error {
	var apiErr *httpx.APIError
	if !errors.As(err, &apiErr) {
		// no structured status code available: network/timeout/DNS error.
		return fmt.Errorf("%w: %v", apperrors.ErrTransient, err)
	}

	if apiErr.StatusCode >= 500 || apiErr.StatusCode == 429 {
		return fmt.Errorf("%w: status %d", apperrors.ErrTransient, apiErr.StatusCode)
	}

	var code exchangeErrorCode
	if jsonErr := json.Unmarshal(apiErr.Body, &code); jsonErr != nil {
		return fmt.Errorf("%w: unparseable error body: %s", apperrors.ErrInvalidOrder, apiErr.Body)
	}

	switch code.Code {
	case -2015, -2014, 10072: // invalid API key / signature
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidCredentials, code.Msg)
	case -2010, 30005: // insufficient balance
		return fmt.Errorf("%w: %s", apperrors.ErrInsufficientFunds, code.Msg)
	case -2011, 10007: // unknown order / cancel target
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, code.Msg)
	case -1013, -1111, 10101: // price/amount precision or bounds violation
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidOrder, code.Msg)
	}

	if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidCredentials, code.Msg)
	}

	return fmt.Errorf("%w: code=%d msg=%s", apperrors.ErrInvalidOrder, code.Code, code.Msg)
}
