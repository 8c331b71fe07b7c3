package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/punchamoorthee/bankassist/internal/domain"
)

// User-facing texts that do not depend on ledger values.
const (
	MsgUnexpected   = "❌ 执行操作时出错，请稍后重试。"
	MsgProviderBusy = "❌ 系统繁忙，请稍后重试。"
	MsgSystemError  = "❌ 系统错误，请稍后重试。"
	MsgEmptyInput   = "❌ 请输入您的问题。"
	MsgNoAccounts   = "❌ 系统中暂无账户信息。"
)

const timeLayout = "2006-01-02 15:04:05"

func renderBalance(a *domain.Account) string {
	var b strings.Builder
	b.WriteString("✅ 账户信息查询成功\n\n")
	fmt.Fprintf(&b, "账户名称：%s\n", a.Name)
	fmt.Fprintf(&b, "账户号码：%s\n", a.AccountNumber)
	fmt.Fprintf(&b, "账户类型：%s\n", a.AccountType)
	fmt.Fprintf(&b, "当前余额：%s", domain.FormatYuan(a.Balance))
	return b.String()
}

func renderAccountInfo(a *domain.Account) string {
	var b strings.Builder
	b.WriteString("📋 账户详细信息\n\n")
	fmt.Fprintf(&b, "账户名称：%s\n", a.Name)
	fmt.Fprintf(&b, "账户号码：%s\n", a.AccountNumber)
	fmt.Fprintf(&b, "账户类型：%s\n", a.AccountType)
	fmt.Fprintf(&b, "当前余额：%s\n", domain.FormatYuan(a.Balance))
	fmt.Fprintf(&b, "信用额度：%s\n", domain.FormatYuan(a.CreditLimit))
	fmt.Fprintf(&b, "可用额度：%s", domain.FormatYuan(a.AvailableLimit()))
	return b.String()
}

func renderTransfer(r *domain.TransferResult) string {
	var b strings.Builder
	b.WriteString("✅ 转账成功！\n\n")
	fmt.Fprintf(&b, "交易编号：%s\n", r.TransactionID)
	fmt.Fprintf(&b, "转出账户：%s (%s)\n", r.From.Name, r.From.AccountNumber)
	fmt.Fprintf(&b, "转入账户：%s (%s)\n", r.To.Name, r.To.AccountNumber)
	fmt.Fprintf(&b, "转账金额：%s\n", domain.FormatYuan(r.Amount))
	fmt.Fprintf(&b, "转出账户余额：%s", domain.FormatYuan(r.From.Balance))
	return b.String()
}

func renderHistory(name string, txns []domain.Transaction) string {
	if len(txns) == 0 {
		return fmt.Sprintf("📝 %s 的账户暂无交易记录。", name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📝 %s 的交易记录（最近%d条）\n\n", name, len(txns))
	for _, t := range txns {
		icon := "📥"
		if t.Type == domain.Debit {
			icon = "📤"
		}
		fmt.Fprintf(&b, "%s %s\n", icon, t.CreatedAt.Format(timeLayout))
		fmt.Fprintf(&b, "   交易编号：%s\n", t.TransactionID)
		fmt.Fprintf(&b, "   类型：%s\n", t.Type)
		fmt.Fprintf(&b, "   金额：%s\n", domain.FormatYuan(t.Amount))
		if t.CounterpartyName != "" {
			fmt.Fprintf(&b, "   对方账户：%s\n", t.CounterpartyName)
		}
		if t.Description != "" {
			fmt.Fprintf(&b, "   备注：%s\n", t.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderAccounts(accounts []domain.Account) string {
	if len(accounts) == 0 {
		return MsgNoAccounts
	}
	var b strings.Builder
	b.WriteString("📋 系统账户列表\n\n")
	for _, a := range accounts {
		fmt.Fprintf(&b, "账户名称：%s\n", a.Name)
		fmt.Fprintf(&b, "  账户号码：%s\n", a.AccountNumber)
		fmt.Fprintf(&b, "  账户类型：%s\n", a.AccountType)
		fmt.Fprintf(&b, "  当前余额：%s\n\n", domain.FormatYuan(a.Balance))
	}
	return b.String()
}

// failureText translates a ledger error into the message shown to the user.
// ok is false for errors that are not business rejections; those get
// MsgUnexpected and must be logged by the caller.
func failureText(err error) (text string, ok bool) {
	var accErr *domain.AccountError
	var fundsErr *domain.InsufficientFundsError

	switch {
	case errors.As(err, &accErr) && errors.Is(err, domain.ErrAccountNotFound):
		switch accErr.Side {
		case domain.SideFrom:
			return fmt.Sprintf("❌ 转账失败：转出账户「%s」不存在。", accErr.Name), true
		case domain.SideTo:
			return fmt.Sprintf("❌ 转账失败：转入账户「%s」不存在。", accErr.Name), true
		default:
			return fmt.Sprintf("❌ 未找到账户名为「%s」的用户信息。", accErr.Name), true
		}
	case errors.Is(err, domain.ErrSelfTransfer):
		return "❌ 转账失败：不能向自己转账。", true
	case errors.Is(err, domain.ErrInvalidAmount):
		return "❌ 转账失败：转账金额必须大于0，且最多保留两位小数。", true
	case errors.Is(err, domain.ErrBalanceOverflow):
		return "❌ 转账失败：转入账户余额超出上限。", true
	case errors.As(err, &fundsErr):
		return fmt.Sprintf("❌ 转账失败：余额不足。当前余额：%s，转账金额：%s",
			domain.FormatYuan(fundsErr.Balance), domain.FormatYuan(fundsErr.Requested)), true
	case errors.Is(err, domain.ErrInvalidArgument):
		return "❌ 请求参数不正确。", true
	}
	return MsgUnexpected, false
}
