// Package client is a Go client for the stqd query node API.
//
// Queries are encrypted on the caller's side (see cmd/stqctl encrypt-query)
// and submitted as-is; the node never sees plaintext bounds.
//
//	c, _ := client.New("http://localhost:8080", client.WithAPIKey(key))
//	st, _ := c.Queries().Submit(ctx, q, client.Wait())
//	fmt.Println(st.Status, st.Trajectories)
//
// Progress of a running query can be followed over a websocket:
//
//	_ = c.Queries().Events(ctx, st.ID, func(e client.Event) error {
//	    fmt.Println(e.Kind)
//	    return nil
//	})
package client
