package conv

import (
	"fmt"
	"log"
)

func ExampleHexStringToBytes() {
	signatures := []string{
		"48 89 AC C7 48 40 00 00",
		"0x48, 0x89, 0xac, 0xc7, 0x48, 0x40, 0x00, 0x00",
		`\x48\x89\xac\xc7\x48\x40\x00\x00`,
		"4889acc748400000",
	}

	for _, sig := range signatures {
		b, err := HexStringToBytes(sig)
		if err != nil {
			log.Fatalln(err)
		}

		fmt.Printf("0x%x\n", b)
	}

	// Output:
	// 0x4889acc748400000
	// 0x4889acc748400000
	// 0x4889acc748400000
	// 0x4889acc748400000
}

func ExampleBytesToHexString() {
	fmt.Println(BytesToHexString([]byte{0x49, 0x8d, 0x81, 0x05, 0x04, 0x00, 0x00}))

	// Output: 49 8D 81 05 04 00 00
}
