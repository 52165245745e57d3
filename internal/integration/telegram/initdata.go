package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
)

// maxInitDataAge максимальный возраст initData.
// Старые подписи отклоняются, даже если они верные.
const maxInitDataAge = 24 * time.Hour

// initDataUser профиль пользователя внутри initData
type initDataUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// VerifyInitData проверяет подпись initData из Telegram Mini App и
// возвращает пользователя. Подпись считается по схеме WebAppData:
// HMAC-SHA256 от отсортированных пар key=value ключом,
// производным от токена бота.
func VerifyInitData(initData, botToken string) (*domain.User, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, domain.ErrUnauthenticated
	}

	gotHash := values.Get("hash")
	if gotHash == "" {
		return nil, domain.ErrUnauthenticated
	}

	var pairs []string
	for key := range values {
		if key == "hash" {
			continue
		}
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)
	checkString := strings.Join(pairs, "\n")

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(checkString))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(gotHash)) {
		return nil, domain.ErrUnauthenticated
	}

	if authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64); err == nil {
		if time.Since(time.Unix(authDate, 0)) > maxInitDataAge {
			return nil, domain.ErrUnauthenticated
		}
	}

	var user initDataUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID == 0 {
		return nil, domain.ErrUnauthenticated
	}

	return &domain.User{
		ID:        user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}, nil
}
