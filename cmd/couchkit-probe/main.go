// Command couchkit-probe exercises a live server against the most
// common operations in the couchkit package: it creates a scratch
// database, reconciles a design document, runs a view query, and tails
// the change feed for a few seconds.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"couchkit"
)

type orderDoc struct {
	ID     string `json:"_id"`
	Status string `json:"status"`
}

func main() {
	baseURL := flag.String("url", "http://127.0.0.1:5984", "server base URL")
	db := flag.String("db", "couchkit_probe", "scratch database name")
	username := flag.String("user", "", "basic auth username")
	password := flag.String("pass", "", "basic auth password")
	flag.Parse()

	var opts []couchkit.ClientOption
	if *username != "" {
		opts = append(opts, couchkit.WithBasicAuth(*username, *password))
	}
	client := couchkit.NewClient(*baseURL, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exists, err := client.DatabaseExists(ctx, *db)
	if err != nil {
		log.Fatalf("probe: checking database: %v", err)
	}
	if !exists {
		if err := client.CreateDatabase(ctx, *db); err != nil {
			log.Fatalf("probe: creating database: %v", err)
		}
	}

	reconciler := couchkit.NewReconciler(client, *db, nil, nil)
	_, err = reconciler.Reconcile(ctx, couchkit.DesignDeclarations{
		DesignDocID: "_design/orders",
		Views: []couchkit.ViewDeclaration{
			{Name: "by_status", Map: "function(doc){if(doc.status){emit(doc.status,1)}}", Reduce: "_count"},
		},
		UpdateIfExists: true,
	})
	if err != nil {
		log.Fatalf("probe: reconciling design document: %v", err)
	}

	events, err := couchkit.QueryView(ctx, client, *db, couchkit.ViewQuery{
		DesignDoc:  "orders",
		View:       "by_status",
		GroupLevel: -1,
	}, couchkit.ViewDecoderConfig[string, int, orderDoc]{
		KeyDecoder:   couchkit.JSONDecoder[string](),
		ValueDecoder: couchkit.JSONDecoder[int](),
		DocDecoder:   couchkit.JSONDecoder[orderDoc](),
	})
	if err != nil {
		log.Fatalf("probe: querying view: %v", err)
	}
	for ev := range events {
		switch ev.Kind {
		case couchkit.EventRow:
			fmt.Printf("status=%v count=%v\n", ev.Row.Key, ev.Row.Value)
		case couchkit.EventError:
			log.Printf("probe: view row error: %v", ev.Err)
		}
	}

	changeCtx, stopChanges := context.WithTimeout(ctx, 5*time.Second)
	defer stopChanges()
	changes := couchkit.SubscribeChanges(changeCtx, client, *db, couchkit.ChangeFeedConfig[orderDoc]{
		DiscriminatorField: "type",
		Resolver: func(discriminator string, raw []byte) (orderDoc, bool) {
			if discriminator != "order" {
				return orderDoc{}, false
			}
			doc, err := couchkit.JSONDecoder[orderDoc]()(raw)
			return doc, err == nil
		},
	})
	for change := range changes {
		fmt.Printf("change seq=%s id=%s deleted=%v\n", change.Seq, change.ID, change.Deleted)
	}
}
