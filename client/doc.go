// Package client is the Go SDK for the transactional relational-query service.
// Every operation is one POST /transaction round trip carrying a mode, a
// readonly flag, an ordered list of labeled actions and the last version the
// client observed for the database.
//
// # Quick start
//
//	ctx := context.Background()
//	cli, err := client.New("https://rel.example.com", client.WithBearerToken(token))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := cli.CreateDatabase(ctx, "orders", true); err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := cli.InstallSource(ctx, "orders", "model.rel", "def total = 42"); err != nil {
//	    log.Fatal(err)
//	}
//	res, err := cli.Query(ctx, "orders", "def out = total", []string{"out"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Actions[0].Result.Output[0].Columns[0][0])
//
// # Results and errors
//
// Operations return (*api.TransactionResult, error). Argument problems are
// reported synchronously as *txn.ValidationError before any request is made.
// Non-2xx responses become *APIError; when the service aborted the
// transaction (HTTP 422) the partial result, including its problems, is
// returned alongside the error. A request carrying a version newer than the
// service knows surfaces as *StaleVersionError. Problems on a successful
// result (for example a parse error in installed source) are data, not errors.
//
// # Versions
//
// The client keeps one version per database. It is read when a transaction is
// built and advanced, never lowered, whenever a response (successful or not)
// reports a larger one. Concurrent writers against one database can opt into
// WithSerializedWrites to keep build, post and apply in order.
//
// # Asynchronous use
//
// Client.Async returns an AsyncClient whose methods validate immediately and
// resolve the round trip on a Future:
//
//	fut, err := cli.Async().Query(ctx, "orders", "def x = 1", []string{"x"})
//	if err != nil {
//	    log.Fatal(err) // validation error
//	}
//	res, err := fut.Wait(ctx)
package client
