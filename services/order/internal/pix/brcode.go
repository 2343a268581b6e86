// Package pix implements the payment gateway for Pix charges: a sandbox that
// issues real BR Code payloads locally, and an HTTP client for a provider.
package pix

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Merchant identifies the receiver encoded in the BR Code.
type Merchant struct {
	Key  string
	Name string
	City string
}

// BRCode builds the static EMV payload ("copia e cola") for amount and txid.
func BRCode(m Merchant, amount decimal.Decimal, txid string) string {
	account := tlv("00", "br.gov.bcb.pix") + tlv("01", m.Key)

	var b strings.Builder
	b.WriteString(tlv("00", "01"))
	b.WriteString(tlv("26", account))
	b.WriteString(tlv("52", "0000"))
	b.WriteString(tlv("53", "986"))
	b.WriteString(tlv("54", amount.StringFixed(2)))
	b.WriteString(tlv("58", "BR"))
	b.WriteString(tlv("59", clip(m.Name, 25)))
	b.WriteString(tlv("60", clip(m.City, 15)))
	b.WriteString(tlv("62", tlv("05", clip(txid, 25))))
	b.WriteString("6304")

	payload := b.String()
	return payload + fmt.Sprintf("%04X", crc16(payload))
}

func tlv(id, value string) string {
	return fmt.Sprintf("%s%02d%s", id, len(value), value)
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}

// crc16 is CRC-16/CCITT-FALSE, the checksum field of a BR Code payload.
func crc16(s string) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(s); i++ {
		crc ^= uint16(s[i]) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
