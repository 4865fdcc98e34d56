// Package ml contains the binary classifiers used to flag abnormal vitals:
// CART decision trees, a bagged random forest, log-loss gradient boosting,
// a standardised logistic regression and a soft-voting ensemble that averages
// their class-1 probabilities. It also provides SMOTE oversampling,
// evaluation metrics and a versioned on-disk model format.
package ml
