package transform

// Column names the transform reads or produces.
const (
	ColOrderID  = "gp_order_id"
	ColTxIndex  = "braintree_tx_index"
	ColVATBand  = "vat_band"
	ColProducts = "total_products"
)

// Item metrics, summed per band.
const (
	MetricQuantity = "item_quantity_count"
	MetricIncVAT   = "total_price_inc_vat"
	MetricExcVAT   = "total_price_exc_vat"
)

// Metrics in pivot column order.
var Metrics = []string{MetricQuantity, MetricIncVAT, MetricExcVAT}

// ItemColumns are the columns the item-level query must return.
var ItemColumns = []string{ColOrderID, ColVATBand, MetricQuantity, MetricIncVAT, MetricExcVAT}

// OrderColumns are the order-level columns of the export, in output order.
var OrderColumns = []string{
	// identifiers
	"gp_order_id",
	"gp_order_id_obfuscated",
	"mp_order_id",
	"payment_system",
	"vendor_group",
	"order_vendor",
	"braintree_tx_index",
	"braintree_transaction_id",

	// status and timestamps
	"order_status",
	"order_created_at",
	"order_completed_at",
	"tx_settled_at",

	// financials
	"order_total_inc_vat",
	"order_total_exc_vat",
	"order_vat",
	"delivery_fee_inc_vat",
	"service_fee_inc_vat",
	"tips",
	"discount_inc_vat",
	"refund_inc_vat",

	// alternates
	"tx_amount",
	"tx_currency",
	"tx_fee",
}

// PivotColumn names the pivoted column for a metric and band.
func PivotColumn(metric string, band Band) string {
	return metric + "_" + string(band)
}

// PivotColumns lists every pivoted item column plus total_products, in output order.
func PivotColumns() []string {
	cols := make([]string, 0, len(Metrics)*len(Bands)+1)
	for _, m := range Metrics {
		for _, b := range Bands {
			cols = append(cols, PivotColumn(m, b))
		}
	}
	return append(cols, ColProducts)
}

// CanonicalColumns is the full export column sequence.
func CanonicalColumns() []string {
	return append(append([]string(nil), OrderColumns...), PivotColumns()...)
}
