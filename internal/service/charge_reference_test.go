package service

import (
	"encoding/base64"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateChargeReference(t *testing.T) {
	cases := []struct {
		name      string
		id        int64
		surname   string
		givenName string
		grade     int
		want      string
	}{
		{"russian", 42, "Иванов", "Иван", 5, "42_Ivanov_Ivan_5"},
		{"uzbek letters", 1, "Қаҳҳоров", "Ҳасан", 3, "1_Qahhorov_Hasan_3"},
		{"digraphs", 7, "Щукин", "Юлия", 8, "7_Shchukin_Yuliya_8"},
		{"signs dropped", 9, "Подъячев", "Игорь", 2, "9_Podyachev_Igor_2"},
		{"latin passthrough", 10, "O'Brien", "Mary-Jane", 4, "10_OBrien_MaryJane_4"},
		{"spaces stripped", 11, "Ван дер Берг", "Анна Мария", 6, "11_VanderBerg_AnnaMariya_6"},
		{"unmapped letters removed", 12, "Müller", "Zoë", 1, "12_Mller_Zo_1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, GenerateChargeReference(tc.id, tc.surname, tc.givenName, tc.grade))
		})
	}
}

func TestGenerateChargeReferenceIsPlainASCII(t *testing.T) {
	shape := regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	got := GenerateChargeReference(1, "Қаҳҳоров!", "Ҳасан ғўё", 3)
	assert.Regexp(t, shape, got)
}

func TestBuildCheckoutURL(t *testing.T) {
	got := BuildCheckoutURL("12345", 5000000, "42_Ivanov_Ivan_5")
	want := "https://checkout.paycom.uz/" + base64.StdEncoding.EncodeToString([]byte("m=12345;ac.charge_id=42_Ivanov_Ivan_5;a=5000000;l=ru"))
	assert.Equal(t, want, got)
	assert.Equal(t, "https://checkout.paycom.uz/bT0xMjM0NTthYy5jaGFyZ2VfaWQ9NDJfSXZhbm92X0l2YW5fNTthPTUwMDAwMDA7bD1ydQ==", got)

	raw, err := base64.StdEncoding.DecodeString(got[len(DefaultCheckoutOrigin):])
	require.NoError(t, err)
	assert.Equal(t, "m=12345;ac.charge_id=42_Ivanov_Ivan_5;a=5000000;l=ru", string(raw))
}

func TestBuildCheckoutURLCustomOrigin(t *testing.T) {
	got := buildCheckoutURL("https://test.paycom.uz", "m", 1, "r")
	assert.Equal(t, "https://test.paycom.uz/"+base64.StdEncoding.EncodeToString([]byte("m=m;ac.charge_id=r;a=1;l=ru")), got)
}
