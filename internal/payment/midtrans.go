package payment

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
)

// ChargeCurrency is the only currency Snap bills in. IDR has no minor units.
const ChargeCurrency = "IDR"

var ErrInvalidSignature = errors.New("notification signature mismatch")

type snapAPI interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

type coreAPI interface {
	CheckTransaction(param string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
}

// Midtrans starts payments through Snap's hosted page and verifies them with
// the Core API. The order id doubles as the Midtrans transaction id.
type Midtrans struct {
	snap      snapAPI
	core      coreAPI
	serverKey string
}

func NewMidtrans(serverKey, env string) *Midtrans {
	environment := midtrans.Sandbox
	if strings.EqualFold(env, "production") {
		environment = midtrans.Production
	}

	var s snap.Client
	s.New(serverKey, environment)

	var c coreapi.Client
	c.New(serverKey, environment)

	return &Midtrans{snap: &s, core: &c, serverKey: serverKey}
}

func (m *Midtrans) Currency() string { return ChargeCurrency }

func (m *Midtrans) BeginCheckout(_ context.Context, order *domain.Order) (string, string, error) {
	if order.ChargeCurrency != ChargeCurrency || !order.ChargeRate.IsPositive() {
		return "", "", fmt.Errorf("order %s has no %s charge rate", order.ID, ChargeCurrency)
	}
	req := checkoutRequest(order)

	resp, mErr := m.snap.CreateTransaction(req)
	// the SDK returns a typed *midtrans.Error, compare before widening to error
	if mErr != nil {
		return "", "", fmt.Errorf("snap create transaction: %s", mErr.GetMessage())
	}
	if resp == nil || resp.RedirectURL == "" {
		return "", "", errors.New("snap create transaction: empty redirect url")
	}

	return resp.RedirectURL, order.ID, nil
}

func (m *Midtrans) Verify(_ context.Context, sessionID string) (domain.PaymentStatus, string, error) {
	resp, mErr := m.core.CheckTransaction(sessionID)
	if mErr != nil {
		// no transaction yet: the shopper never finished the hosted page
		if mErr.GetStatusCode() == http.StatusNotFound {
			return domain.PaymentStatusPending, "", nil
		}
		return "", "", fmt.Errorf("check transaction: %s", mErr.GetMessage())
	}
	if resp == nil {
		return "", "", errors.New("check transaction: empty response")
	}

	return outcomeOf(resp.TransactionStatus, resp.FraudStatus), resp.TransactionID, nil
}

func outcomeOf(transactionStatus, fraudStatus string) domain.PaymentStatus {
	switch transactionStatus {
	case "settlement":
		return domain.PaymentStatusPaid
	case "capture":
		switch fraudStatus {
		case "accept", "":
			return domain.PaymentStatusPaid
		case "challenge":
			return domain.PaymentStatusPending
		default:
			return domain.PaymentStatusFailed
		}
	case "deny", "cancel", "expire", "failure":
		return domain.PaymentStatusFailed
	default:
		return domain.PaymentStatusPending
	}
}

// checkoutRequest converts the order into whole rupiah with its frozen charge
// rate. Lines are priced individually and tax plus rounding goes on its own
// line so the items always add up to the gross amount.
func checkoutRequest(order *domain.Order) *snap.Request {
	rate := order.ChargeRate

	items := make([]midtrans.ItemDetails, 0, len(order.Items)+1)
	var sum int64
	for _, it := range order.Items {
		price := it.UnitPrice.Mul(rate).Round(0).IntPart()
		name := it.ProductName
		if it.Size != "" {
			name = fmt.Sprintf("%s (%s)", name, it.Size)
		}
		items = append(items, midtrans.ItemDetails{
			ID:    it.ProductID,
			Name:  truncate(name, 50),
			Price: price,
			Qty:   int32(it.Quantity),
		})
		sum += price * int64(it.Quantity)
	}

	gross := order.Total.Mul(rate).Round(0).IntPart()
	if diff := gross - sum; diff != 0 {
		items = append(items, midtrans.ItemDetails{
			ID:    "tax",
			Name:  "Tax and rounding",
			Price: diff,
			Qty:   1,
		})
	}

	sh := order.Shipping
	addr := &midtrans.CustomerAddress{
		FName:       sh.Name,
		Phone:       sh.Phone,
		Address:     sh.Address,
		City:        sh.City,
		Postcode:    sh.PostalCode,
		CountryCode: sh.Country,
	}

	return &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  order.ID,
			GrossAmt: gross,
		},
		Items: &items,
		CustomerDetail: &midtrans.CustomerDetails{
			FName:    sh.Name,
			Phone:    sh.Phone,
			BillAddr: addr,
			ShipAddr: addr,
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Notification is the part of a Midtrans HTTP notification needed to trust it.
type Notification struct {
	OrderID      string `json:"order_id"`
	StatusCode   string `json:"status_code"`
	GrossAmount  string `json:"gross_amount"`
	SignatureKey string `json:"signature_key"`
}

// VerifyNotification checks the notification's SHA-512 signature.
func (m *Midtrans) VerifyNotification(n Notification) error {
	raw := n.OrderID + n.StatusCode + n.GrossAmount + m.serverKey
	hash := sha512.Sum512([]byte(raw))
	if hex.EncodeToString(hash[:]) != strings.ToLower(n.SignatureKey) {
		return ErrInvalidSignature
	}
	return nil
}
