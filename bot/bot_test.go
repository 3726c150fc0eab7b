package bot

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stroykontrol/build-report/ledger"
	"github.com/stroykontrol/build-report/ledger/ledgertest"
	"github.com/stroykontrol/build-report/ledger/store"
	"github.com/stroykontrol/build-report/logger"
)

var petrov = sender{ID: 424242, Username: "petrov_site3"}

func newTestBot(t *testing.T) (*Bot, *store.Memory, ledger.WorkID) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	engine := ledger.NewEngine(st, ledger.WithClock(ledgertest.Clock))

	cement, err := engine.CreateMaterial(ctx, ledger.Material{
		Name: "Cement", Unit: "kg", Quantity: decimal.NewFromInt(100), IsActive: true,
	}, "Warehouse")
	require.NoError(t, err)
	w, err := engine.CreateWork(ctx, ledger.Work{
		Name: "Foundation", Unit: "m3", Balance: decimal.NewFromInt(100),
		ProjectTotal: decimal.NewFromInt(100), IsActive: true,
	})
	require.NoError(t, err)
	_, err = engine.SetRequirements(ctx, w.ID, []ledger.BOMLine{
		{MaterialID: cement.ID, QuantityPerUnit: decimal.NewFromInt(2)},
	})
	require.NoError(t, err)

	return &Bot{log: logger.Discard(), engine: engine, store: st}, st, w.ID
}

func TestStart_RegistersForeman(t *testing.T) {
	b, st, _ := newTestBot(t)
	ctx := context.Background()

	// WHEN: /start with name and position
	text := b.reply(ctx, petrov, "start", " Ivan Petrov ; site 3")

	// THEN: The sender is a foreman keyed by Telegram id
	assert.Contains(t, text, "Ivan Petrov")
	f, err := st.GetForeman(ctx, ledger.ForemanID(petrov.ID))
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "site 3", f.Position)
	assert.Equal(t, "petrov_site3", f.Username)

	// AND: /start without arguments recognizes them
	assert.Contains(t, b.reply(ctx, petrov, "start", ""), "зарегистрированы как Ivan Petrov")
}

func TestStart_Unregistered_AsksForName(t *testing.T) {
	b, _, _ := newTestBot(t)

	text := b.reply(context.Background(), petrov, "start", "")

	assert.Contains(t, text, "/start Фамилия Имя; должность")
}

func TestWorks_ListsBalances(t *testing.T) {
	b, _, id := newTestBot(t)

	text := b.reply(context.Background(), petrov, "works", "")

	assert.Contains(t, text, "Foundation: 100 m3")
	assert.Contains(t, text, fmt.Sprint(id)+".")
}

func TestReport_DebitsBalanceAndStock(t *testing.T) {
	// GIVEN: A registered foreman
	b, st, id := newTestBot(t)
	ctx := context.Background()
	b.reply(ctx, petrov, "start", "Ivan Petrov; site 3")

	// WHEN: Reporting 12,5 m3 with a decimal comma
	text := b.reply(ctx, petrov, "report", fmt.Sprint(id)+" 12,5")

	// THEN: The report is filed and balances move
	assert.Contains(t, text, "принят")
	assert.Contains(t, text, "Остаток: 87.5 m3")

	reports, err := st.ListReports(ctx, ledger.ReportFilter{})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, ledger.ForemanID(petrov.ID), reports[0].ForemanID)
	assert.Equal(t, "2025-03-10", reports[0].ReportDate)

	materials, err := st.ListMaterials(ctx, false)
	require.NoError(t, err)
	ledgertest.AssertDec(t, "75", materials[0].Quantity)
}

func TestReport_Rejections(t *testing.T) {
	b, _, id := newTestBot(t)
	ctx := context.Background()
	work := fmt.Sprint(id)

	// unregistered sender
	assert.Contains(t, b.reply(ctx, petrov, "report", work+" 1"), "не зарегистрированы")

	b.reply(ctx, petrov, "start", "Ivan Petrov; site 3")

	cases := []struct {
		args string
		want string
	}{
		{"", "Формат"},
		{"abc 1", "Некорректный id работы"},
		{work + " lots", "Некорректный объём"},
		{"999 1", "Работа не найдена"},
		{work + " 0", "Некорректные данные (quantity)"},
		{work + " 101", "Недостаточно остатка по работе «Foundation»"},
		{work + " 51", "Недостаточно материала «Cement»: доступно 100, требуется 102"},
	}
	for _, tc := range cases {
		t.Run(tc.args, func(t *testing.T) {
			assert.Contains(t, b.reply(ctx, petrov, "report", tc.args), tc.want)
		})
	}
}

func TestErrorText_StorageFailureIsGeneric(t *testing.T) {
	err := &ledger.StorageError{Op: "create_report", Err: errors.New("database is locked")}

	text := errorText(err)

	assert.Equal(t, "Не удалось сохранить, попробуйте позже.", text)
	assert.NotContains(t, text, "locked")
}

func TestUnknownCommand_ShowsHelp(t *testing.T) {
	b, _, _ := newTestBot(t)

	assert.Equal(t, helpText, b.reply(context.Background(), petrov, "balance", ""))
}
