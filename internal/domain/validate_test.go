package domain

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func validParams() CreateParams {
	return CreateParams{
		Identifier:        "default",
		AmountPerInterval: MustParseNative("0.05"),
		FrequencySeconds:  604800,
		MaturityTime:      1_715_724_800,
		Destination:       common.HexToAddress("0x0000000000000000000000000000000000000001"),
		TotalAmount:       MustParseNative("1.0"),
	}
}

func TestCreateParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *CreateParams)
		field  string
	}{
		{"valid", func(p *CreateParams) {}, ""},
		{"empty identifier", func(p *CreateParams) { p.Identifier = "" }, "Identifier"},
		{"long identifier", func(p *CreateParams) { p.Identifier = strings.Repeat("x", 129) }, "Identifier"},
		{"nil amount", func(p *CreateParams) { p.AmountPerInterval = nil }, "AmountPerInterval"},
		{"zero amount", func(p *CreateParams) { p.AmountPerInterval = new(big.Int) }, "amount per interval"},
		{"negative amount", func(p *CreateParams) { p.AmountPerInterval = big.NewInt(-1) }, "amount per interval"},
		{"zero frequency", func(p *CreateParams) { p.FrequencySeconds = 0 }, "FrequencySeconds"},
		{"zero maturity", func(p *CreateParams) { p.MaturityTime = 0 }, "MaturityTime"},
		{"zero destination", func(p *CreateParams) { p.Destination = common.Address{} }, "Destination"},
		{"nil total", func(p *CreateParams) { p.TotalAmount = nil }, "TotalAmount"},
		{"zero total", func(p *CreateParams) { p.TotalAmount = new(big.Int) }, "total amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)

			err := p.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
