package flashsale

const (
	TopicPurchaseCommitted = "flashsale.purchase.committed"
	TopicSaleReset         = "flashsale.reset"
)

// Partition key = buyer_id, supaya semua event 1 buyer maintain urutan.
func PartitionKey(buyerID string) []byte { return []byte(buyerID) }
