package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orderdomain "github.com/dmehra2102/scrap-pickup/internal/order/domain"
	paymentdomain "github.com/dmehra2102/scrap-pickup/internal/payment/domain"
)

func payload(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestFromEvent_Accepted(t *testing.T) {
	now := time.Now().UTC()
	e := orderdomain.OrderAccepted{OrderID: uuid.New(), OwnerID: uuid.New(), CollectorID: uuid.New()}

	ns, err := FromEvent(orderdomain.EventOrderAccepted, payload(t, e), now)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, e.OwnerID, ns[0].UserID)
	assert.Equal(t, KindOrderAccepted, ns[0].Kind)
	assert.Equal(t, "OrderAccepted:"+e.OrderID.String(), ns[0].EventKey)
}

func TestFromEvent_CancelledNotifiesTheOtherParty(t *testing.T) {
	owner, collector := uuid.New(), uuid.New()

	byOwner := orderdomain.OrderCancelled{OrderID: uuid.New(), OwnerID: owner, CollectorID: &collector, CancelledBy: owner}
	ns, err := FromEvent(orderdomain.EventOrderCancelled, payload(t, byOwner), time.Now())
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, collector, ns[0].UserID)

	byCollector := orderdomain.OrderCancelled{OrderID: uuid.New(), OwnerID: owner, CollectorID: &collector, CancelledBy: collector}
	ns, err = FromEvent(orderdomain.EventOrderCancelled, payload(t, byCollector), time.Now())
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, owner, ns[0].UserID)

	pending := orderdomain.OrderCancelled{OrderID: uuid.New(), OwnerID: owner, CancelledBy: owner}
	ns, err = FromEvent(orderdomain.EventOrderCancelled, payload(t, pending), time.Now())
	require.NoError(t, err)
	assert.Empty(t, ns)
}

func TestFromEvent_PaymentSettled(t *testing.T) {
	e := paymentdomain.PaymentSettled{
		OrderID: uuid.New(), PayerID: uuid.New(), PayeeID: uuid.New(),
		Amount: "30.00", Method: paymentdomain.MethodCash,
	}
	ns, err := FromEvent(paymentdomain.EventPaymentSettled, payload(t, e), time.Now())
	require.NoError(t, err)
	require.Len(t, ns, 2)
	assert.Equal(t, e.PayeeID, ns[0].UserID)
	assert.Contains(t, ns[0].Message, "30.00")
	assert.Equal(t, e.PayerID, ns[1].UserID)
	assert.Equal(t, ns[0].EventKey, ns[1].EventKey)
}

func TestFromEvent_IgnoredAndMalformed(t *testing.T) {
	ns, err := FromEvent(orderdomain.EventOrderCreated, []byte(`{}`), time.Now())
	require.NoError(t, err)
	assert.Nil(t, ns)

	_, err = FromEvent(orderdomain.EventOrderAccepted, []byte(`{not json`), time.Now())
	require.Error(t, err)
}
