// Command heapctl exercises a region heap from the command line: it runs
// allocation simulations, computes reclamation sets from fixtures and checks
// configuration files.
package main

func main() {
	execute()
}
