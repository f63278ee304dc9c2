package auth

import (
	"crypto/subtle"
	"net/http"
	"time"

	"signdesk/internal/secrets"
)

// ValidCSRF: непустое совпадение за постоянное время.
func ValidCSRF(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// IssueSetupCSRF выдаёт CSRF до появления сессии (первая настройка, вход); значение в cookie
// и в скрытом поле формы (double submit).
func IssueSetupCSRF(w http.ResponseWriter) (string, error) {
	tok, err := secrets.NewToken()
	if err != nil {
		return "", err
	}
	setCookie(w, SetupCSRFCookie, tok, time.Now().Add(time.Hour))
	return tok, nil
}

func CheckSetupCSRF(r *http.Request) bool {
	return ValidCSRF(cookieValue(r, SetupCSRFCookie), r.PostFormValue(CSRFField))
}

func ClearSetupCSRF(w http.ResponseWriter) {
	clearCookie(w, SetupCSRFCookie)
}
