// Package models defines the core domain models for SplitWithMe.
//
// # Models
//
//   - Participant: a person (friend) tracked by the ledger
//   - Expense: a shared cost with one payer, a set of debtors and a signed
//     contribution per participant; settlement entries use the same record
//   - Snapshot: an immutable, consistent view of the whole ledger
//
// # Design Principles
//
//  1. **Balances are derived**: a participant's balance is the sum of its
//     contributions across the ledger and is never stored as authoritative state
//  2. **Zero-sum records**: the contributions of every expense sum to exactly zero
//  3. **Exact money**: amounts are decimals in currency units, kept to cents
//  4. **Avoid circular references**: use integer IDs instead of pointers for relationships
package models
