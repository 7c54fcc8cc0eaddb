// Package stakemail provides a storage-staking mailbox for Go.
//
// Accounts deposit funds to cover the storage they use. Registering an
// account locks a minimum deposit, and every message an account sends is
// charged against the sender's available balance at the current storage
// byte cost. Messages may carry a fee that is paid out to the receiver.
// Payouts (fees, refunds, withdrawals, donations) are reported as transfers
// and, when a Bank is configured, dispatched after the state change commits.
//
// # Basic Usage
//
//	// Create in-memory store for testing
//	st := memory.New()
//
//	// Create the service with a byte cost of 1 and an in-process bank
//	svc, err := stakemail.NewService(
//	    stakemail.WithStore(st),
//	    stakemail.WithHost(stakemail.NewStaticHost(store.NewBalance(1))),
//	    stakemail.WithBank(transfer.NewMemoryBank()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	// Register alice with a deposit above the minimum
//	alice := svc.Account("alice")
//	if _, err := alice.Deposit(ctx, store.NewBalance(1000), false); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Send a message to bob with a fee of 5
//	res, err := alice.Send(ctx, stakemail.SendRequest{
//	    Receiver: "bob",
//	    Title:    "Hello",
//	    Content:  "World",
//	    Fee:      store.NewBalance(5),
//	})
//
// # Account Operations
//
//   - Deposit/DepositFor: register or top up a storage deposit
//   - Withdraw: take back part of the available balance
//   - Unregister: remove the account and refund the whole deposit
//   - Send/Delete: store and remove messages
//   - Donate: forward funds to the donation account
//   - MigrateSchema/SetDonationAccount: owner-only administration
//
// # Storage Backends
//
// The store package provides implementations for:
//   - MongoDB (store/mongo) - accepts *mongo.Client
//   - SQL (store/sqlstore) - PostgreSQL or SQLite through *sqlx.DB
//   - In-memory (store/memory) - for testing
//
// A store written with the previous layout must be migrated with
// MigrateSchema before it accepts writes. Reads work on either layout.
// Configure WithSnapshotSink to archive the old state (snapshot/s3,
// snapshot/gcs) before it is replaced.
//
// # Events
//
// Events use the github.com/rbaliyan/event/v3 library. Pass
// WithRedisClient or WithEventTransport to publish them:
//
//	svc, err := stakemail.NewService(
//	    stakemail.WithStore(st),
//	    stakemail.WithHost(host),
//	    stakemail.WithRedisClient(redisClient),
//	)
//
// Available events:
//   - MailSent - when a message is stored
//   - MailDeleted - when a message is removed
//   - AccountRegistered - when a first deposit registers an account
//   - AccountUnregistered - when an account is removed
package stakemail
