package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/theflywheel/durablemap"
)

func main() {
	// Clean up previous example
	os.Remove("example-buckets")
	os.Remove("example-entries")

	// Open or create a persistent map with 8-byte keys and values.
	m, err := durablemap.OpenBytes("example", 8, 8)
	if err != nil {
		log.Fatalf("Failed to open map: %v", err)
	}
	defer m.Close()

	fmt.Println("Durable map opened successfully")

	// Insert some data
	for i := 0; i < 10; i++ {
		key := make([]byte, 8)
		value := make([]byte, 8)

		binary.BigEndian.PutUint64(key, uint64(i))
		binary.BigEndian.PutUint64(value, uint64(i*100))

		if err := m.Set(key, value); err != nil {
			log.Fatalf("Failed to insert key %d: %v", i, err)
		}
	}

	fmt.Println("Inserted 10 key-value pairs")

	// Retrieve and display some values
	for i := 0; i < 15; i += 2 {
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(i))

		value, err := m.Get(key)
		switch {
		case err == nil:
			fmt.Printf("Key %d => Value %d\n", i, binary.BigEndian.Uint64(value))
		case errors.Is(err, durablemap.ErrNotFound):
			fmt.Printf("Key %d not found\n", i)
		default:
			log.Fatalf("Get(%d) failed: %v", i, err)
		}
	}

	// Update a value
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(2))

	newValue := make([]byte, 8)
	binary.BigEndian.PutUint64(newValue, uint64(999))

	if err := m.Set(key, newValue); err != nil {
		log.Fatalf("Failed to update key: %v", err)
	}

	// Verify the update
	value, err := m.Get(key)
	if err == nil {
		fmt.Printf("Updated key 2 => Value %d\n", binary.BigEndian.Uint64(value))
	}

	// Remove a key and confirm it is gone.
	removed, err := m.Remove(key)
	if err != nil {
		log.Fatalf("Failed to remove key: %v", err)
	}
	fmt.Printf("Removed key 2: %v\n", removed)

	count, err := m.Count()
	if err != nil {
		log.Fatalf("Failed to count: %v", err)
	}
	fmt.Printf("Final entry count: %d\n", count)

	fmt.Println("Example completed successfully")
}
