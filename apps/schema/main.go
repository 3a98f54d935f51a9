// Command schema bootstraps the Scylla keyspace and tables the messaging
// service uses, and can seed a job row for local testing. Production schema
// changes belong in a migration pipeline; this tool exists for dev and CI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gocql/gocql"
)

var tables = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id text PRIMARY KEY,
		title text,
		status text,
		client_id text,
		professional_id text,
		updated_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		job_id text,
		id bigint,
		sender_id text,
		recipient_id text,
		content text,
		message_type text,
		is_read boolean,
		read_at timestamp,
		created_at timestamp,
		updated_at timestamp,
		PRIMARY KEY (job_id, id)
	) WITH CLUSTERING ORDER BY (id ASC)`,
	`CREATE TABLE IF NOT EXISTS message_index (
		id bigint PRIMARY KEY,
		job_id text
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		user_id text,
		job_id text,
		other_user_id text,
		last_updated timestamp,
		PRIMARY KEY (user_id, job_id)
	)`,
	`CREATE TABLE IF NOT EXISTS unread_counters (
		user_id text,
		job_id text,
		unread counter,
		PRIMARY KEY (user_id, job_id)
	)`,
}

func main() {
	hostsFlag := flag.String("hosts", envOr("SCYLLA_HOSTS", "localhost:9042"), "comma-separated scylla hosts")
	keyspace := flag.String("keyspace", envOr("SCYLLA_KEYSPACE", "jobchat"), "keyspace to create")
	seedJob := flag.String("seed-job", "", "optional: seed a job as id:title:clientID[:professionalID]")
	flag.Parse()

	hosts := strings.Split(*hostsFlag, ",")

	// Keyspace creation needs a session without a keyspace bound.
	sys := cluster(hosts, "")
	sysSession, err := sys.CreateSession()
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	err = sysSession.Query(fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`,
		*keyspace,
	)).Exec()
	sysSession.Close()
	if err != nil {
		log.Fatalf("create keyspace: %v", err)
	}

	session, err := cluster(hosts, *keyspace).CreateSession()
	if err != nil {
		log.Fatalf("connect keyspace %s: %v", *keyspace, err)
	}
	defer session.Close()

	for _, ddl := range tables {
		if err := session.Query(ddl).Exec(); err != nil {
			log.Fatalf("create table: %v\n%s", err, ddl)
		}
	}
	log.Printf("schema ready in keyspace %s", *keyspace)

	if *seedJob != "" {
		if err := seed(session, *seedJob); err != nil {
			log.Fatalf("seed job: %v", err)
		}
	}
}

func cluster(hosts []string, keyspace string) *gocql.ClusterConfig {
	c := gocql.NewCluster(hosts...)
	if keyspace != "" {
		c.Keyspace = keyspace
	}
	c.Consistency = gocql.Quorum
	c.Timeout = 5 * time.Second
	c.ConnectTimeout = 5 * time.Second
	return c
}

func seed(session *gocql.Session, spec string) error {
	parts := strings.Split(spec, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return fmt.Errorf("want id:title:clientID[:professionalID], got %q", spec)
	}
	id, title, clientID := parts[0], parts[1], parts[2]
	professionalID := ""
	status := "OPEN"
	if len(parts) == 4 {
		professionalID = parts[3]
		status = "IN_PROGRESS"
	}

	err := session.Query(
		`INSERT INTO jobs (id, title, status, client_id, professional_id, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, title, status, clientID, professionalID, time.Now().UTC(),
	).WithContext(context.Background()).Exec()
	if err != nil {
		return err
	}
	log.Printf("seeded job %s (client=%s professional=%q)", id, clientID, professionalID)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
