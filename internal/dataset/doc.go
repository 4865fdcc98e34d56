// Package dataset reads the raw vitals CSV export and turns it into a clean
// feature matrix for training: numeric coercion, duplicate removal, SpO2
// outlier handling, per-class median imputation, label encoding and a
// stratified train/test split.
package dataset
