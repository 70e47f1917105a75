package coinroom

import "github.com/shopspring/decimal"

const exchangeName = "CoinRoom"

type Details struct {
	minTick decimal.Decimal
	minLot  decimal.Decimal
}

func NewDetails(minTick, minLot decimal.Decimal) *Details {
	return &Details{minTick: minTick, minLot: minLot}
}

func (d *Details) Name() string     { return exchangeName }
func (d *Details) Exchange() string { return exchangeName }

func (d *Details) MakeFee() decimal.Decimal { return decimal.NewFromFloat(0.001) }
func (d *Details) TakeFee() decimal.Decimal { return decimal.NewFromFloat(0.002) }

func (d *Details) MinTickIncrement() decimal.Decimal { return d.minTick }
func (d *Details) MinLotIncrement() decimal.Decimal  { return d.minLot }

func (d *Details) HasSelfTradePrevention() bool { return false }
