// Command crindex serves and maintains a content repository index.
package main

func main() {
	execute()
}
