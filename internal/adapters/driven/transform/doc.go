// Package transform maps raw catalog records to products.
//
// A record is normalised (case-insensitive keys, synonym field names,
// localised text maps), its text translated to the profile language, its
// price converted to the profile currency, and the result upserted through
// the product store. Existing products are resolved through the lookup
// index: by SKU, then by reference, then by grouping key. Variants are
// attached to a container product, which is created with a synthetic SKU
// when the catalog has not delivered one yet.
package transform
